package domain

import (
	"time"
	"unicode/utf8"
)

const textPreviewRunes = 140

func previewText(s string) string {
	if utf8.RuneCountInString(s) <= textPreviewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:textPreviewRunes]) + "…"
}

// Phase1Items flattens presorted items into lite leaves. Grid children
// inherit the grid's presentation unless they carry their own.
func Phase1Items(items []PresortedFeedItem) []Phase1LeafItem {
	out := make([]Phase1LeafItem, 0, len(items))
	for _, it := range items {
		if it.Type == ItemGrid {
			for _, c := range it.Children {
				if c.Presentation == nil {
					c.Presentation = it.Presentation
				}
				if leaf, ok := phase1Leaf(c); ok {
					out = append(out, leaf)
				}
			}
			continue
		}
		if leaf, ok := phase1Leaf(it); ok {
			out = append(out, leaf)
		}
	}
	return out
}

func phase1Leaf(p PresortedFeedItem) (Phase1LeafItem, bool) {
	leaf := Phase1LeafItem{
		Actor:        Phase1Actor{ID: p.ActorID, Name: p.ActorName, AvatarURL: p.ActorAvatarURL},
		Presentation: p.Presentation,
	}
	switch {
	case p.Post != nil:
		leaf.ID = p.Post.ID
		leaf.Kind = Phase1Post
		leaf.TextPreview = previewText(p.Post.Text)
		leaf.CreatedAt = timePtr(p.Post.CreatedAt)
	case p.Suggestion != nil:
		leaf.ID = p.Suggestion.UserID
		leaf.Kind = Phase1Profile
		leaf.TextPreview = previewText(p.Suggestion.Bio)
	case p.Question != nil:
		leaf.ID = p.Question.ID
		leaf.Kind = Phase1Question
		leaf.TextPreview = previewText(p.Question.Prompt)
		leaf.CreatedAt = timePtr(p.Question.CreatedAt)
	default:
		return Phase1LeafItem{}, false
	}
	return leaf, true
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
