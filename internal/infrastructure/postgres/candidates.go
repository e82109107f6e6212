package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

// FetchCandidates loads posts, profile suggestions and quiz questions for a
// viewer. Posts page by (created_at, id) below AfterPostID; an unknown
// cursor post yields the newest page.
func (r *Repository) FetchCandidates(ctx context.Context, q domain.CandidateQuery) (domain.CandidateSet, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var set domain.CandidateSet
	var err error

	if set.Posts, err = r.candidatePosts(ctx, q); err != nil {
		return domain.CandidateSet{}, err
	}
	if set.Suggestions, err = r.candidateSuggestions(ctx, q); err != nil {
		return domain.CandidateSet{}, err
	}
	if set.Questions, err = r.candidateQuestions(ctx, q); err != nil {
		return domain.CandidateSet{}, err
	}
	return set, nil
}

func (r *Repository) candidatePosts(ctx context.Context, q domain.CandidateQuery) ([]*domain.PostCandidate, error) {
	if q.PostLimit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		WITH cursor_post AS (
			SELECT created_at, id FROM posts WHERE id = NULLIF($2, '')::uuid
		)
		SELECT p.id::text, p.author_id::text, p.body, p.media_type, p.created_at, p.updated_at
		FROM posts p
		JOIN users u ON u.id = p.author_id AND u.deleted_at IS NULL
		WHERE p.deleted_at IS NULL
		  AND (
			NOT EXISTS (SELECT 1 FROM cursor_post)
			OR (p.created_at, p.id) < (SELECT created_at, id FROM cursor_post)
		  )
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1
	`, q.PostLimit, q.AfterPostID)
	if err != nil {
		return nil, fmt.Errorf("query candidate posts: %w", err)
	}
	defer rows.Close()

	var out []*domain.PostCandidate
	for rows.Next() {
		var p domain.PostCandidate
		var media string
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Text, &media, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate post: %w", err)
		}
		p.MediaType = domain.MediaType(media)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate posts: %w", err)
	}
	return out, nil
}

// candidateSuggestions returns the viewer's matches first, then active
// profiles the viewer neither follows nor matched.
func (r *Repository) candidateSuggestions(ctx context.Context, q domain.CandidateQuery) ([]*domain.SuggestionCandidate, error) {
	if q.SuggestionLimit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		WITH my_matches AS (
			SELECT CASE WHEN m.user_a = $1::uuid THEN m.user_b ELSE m.user_a END AS other_id, m.created_at
			FROM matches m
			WHERE m.user_a = $1::uuid OR m.user_b = $1::uuid
		)
		(
			SELECT mm.other_id::text, 'match' AS source, mm.created_at, COALESCE(pr.bio, ''), COALESCE(pr.last_active_at, mm.created_at)
			FROM my_matches mm
			JOIN users u ON u.id = mm.other_id AND u.deleted_at IS NULL
			LEFT JOIN profiles pr ON pr.user_id = mm.other_id
			ORDER BY mm.created_at DESC
			LIMIT $2
		)
		UNION ALL
		(
			SELECT pr.user_id::text, 'suggested' AS source, NULL::timestamptz, pr.bio, pr.last_active_at
			FROM profiles pr
			JOIN users u ON u.id = pr.user_id AND u.deleted_at IS NULL
			WHERE pr.user_id <> $1::uuid
			  AND NOT EXISTS (SELECT 1 FROM my_matches mm WHERE mm.other_id = pr.user_id)
			  AND NOT EXISTS (SELECT 1 FROM follows f WHERE f.follower_id = $1::uuid AND f.followee_id = pr.user_id)
			ORDER BY pr.last_active_at DESC
			LIMIT $2
		)
	`, q.ViewerID, q.SuggestionLimit)
	if err != nil {
		return nil, fmt.Errorf("query candidate suggestions: %w", err)
	}
	defer rows.Close()

	var out []*domain.SuggestionCandidate
	for rows.Next() {
		var s domain.SuggestionCandidate
		var source string
		var matchedAt *time.Time
		if err := rows.Scan(&s.UserID, &source, &matchedAt, &s.Bio, &s.LastActive); err != nil {
			return nil, fmt.Errorf("scan candidate suggestion: %w", err)
		}
		s.From = domain.Source(source)
		if matchedAt != nil {
			s.MatchedAt = *matchedAt
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate suggestions: %w", err)
	}
	return out, nil
}

// candidateQuestions skips questions the viewer owns or already answered.
func (r *Repository) candidateQuestions(ctx context.Context, q domain.CandidateQuery) ([]*domain.QuestionCandidate, error) {
	if q.QuestionLimit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT qq.id::text, COALESCE(qq.quiz_id::text, ''), COALESCE(qq.owner_id::text, ''), qq.prompt, qq.created_at
		FROM quiz_questions qq
		WHERE qq.deleted_at IS NULL
		  AND (qq.owner_id IS NULL OR qq.owner_id <> $1::uuid)
		  AND NOT EXISTS (
			SELECT 1 FROM quiz_answers qa WHERE qa.question_id = qq.id AND qa.user_id = $1::uuid
		  )
		ORDER BY qq.created_at DESC, qq.id DESC
		LIMIT $2
	`, q.ViewerID, q.QuestionLimit)
	if err != nil {
		return nil, fmt.Errorf("query candidate questions: %w", err)
	}
	defer rows.Close()

	var out []*domain.QuestionCandidate
	for rows.Next() {
		var qc domain.QuestionCandidate
		if err := rows.Scan(&qc.ID, &qc.QuizID, &qc.OwnerID, &qc.Prompt, &qc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate question: %w", err)
		}
		out = append(out, &qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate questions: %w", err)
	}
	return out, nil
}
