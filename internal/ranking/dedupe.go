package ranking

import "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"

// Dedupe drops repeated identity keys, keeping the first occurrence, and
// drops suggestions for users who already author a kept post.
func Dedupe(set domain.CandidateSet) domain.CandidateSet {
	seen := make(map[string]struct{}, set.Len())
	postAuthors := make(map[string]struct{}, len(set.Posts))

	out := domain.CandidateSet{
		Posts:       make([]*domain.PostCandidate, 0, len(set.Posts)),
		Suggestions: make([]*domain.SuggestionCandidate, 0, len(set.Suggestions)),
		Questions:   make([]*domain.QuestionCandidate, 0, len(set.Questions)),
	}

	for _, p := range set.Posts {
		if p == nil || !firstSeen(seen, p.Key()) {
			continue
		}
		out.Posts = append(out.Posts, p)
		if p.AuthorID != "" {
			postAuthors[p.AuthorID] = struct{}{}
		}
	}
	for _, s := range set.Suggestions {
		if s == nil {
			continue
		}
		if _, ok := postAuthors[s.UserID]; ok {
			continue
		}
		if !firstSeen(seen, s.Key()) {
			continue
		}
		out.Suggestions = append(out.Suggestions, s)
	}
	for _, q := range set.Questions {
		if q == nil || !firstSeen(seen, q.Key()) {
			continue
		}
		out.Questions = append(out.Questions, q)
	}
	return out
}

func firstSeen(seen map[string]struct{}, key string) bool {
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}
	return true
}
