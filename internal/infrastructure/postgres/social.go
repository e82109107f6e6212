package postgres

import (
	"context"
	"fmt"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

func (r *Repository) Relationships(ctx context.Context, viewerID string) (domain.Relationships, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rels := domain.Relationships{Following: map[string]struct{}{}, Followers: map[string]struct{}{}}
	rows, err := r.pool.Query(ctx, `
		SELECT followee_id::text, 'following' FROM follows WHERE follower_id = $1::uuid
		UNION ALL
		SELECT follower_id::text, 'follower' FROM follows WHERE followee_id = $1::uuid
	`, viewerID)
	if err != nil {
		return domain.Relationships{}, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, dir string
		if err := rows.Scan(&id, &dir); err != nil {
			return domain.Relationships{}, fmt.Errorf("scan relationship: %w", err)
		}
		if dir == "following" {
			rels.Following[id] = struct{}{}
		} else {
			rels.Followers[id] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Relationships{}, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

func (r *Repository) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT f.follower_id::text
		FROM follows f
		JOIN users u ON u.id = f.follower_id AND u.deleted_at IS NULL
		WHERE f.followee_id = $1::uuid
		ORDER BY f.follower_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query followers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followers: %w", err)
	}
	return ids, nil
}

// MatchScores reads precomputed compatibility rows for the viewer.
func (r *Repository) MatchScores(ctx context.Context, viewerID string, userIDs []string) (map[string]domain.MatchScore, error) {
	out := make(map[string]domain.MatchScore, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT candidate_id::text, score, status, updated_at
		FROM compatibility_scores
		WHERE viewer_id = $1::uuid AND candidate_id = ANY($2::text[]::uuid[])
	`, viewerID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query match scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		var s domain.MatchScore
		if err := rows.Scan(&id, &s.Score, &status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan match score: %w", err)
		}
		s.Status = domain.MatchStatus(status)
		out[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match scores: %w", err)
	}
	return out, nil
}
