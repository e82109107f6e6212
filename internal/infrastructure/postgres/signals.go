package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

// LatestSignals reads the newest upstream change per signal kind for the
// presort freshness hash. Posts count when written by the user or anyone the
// user follows.
func (r *Repository) LatestSignals(ctx context.Context, userID string) (domain.SignalTimestamps, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var match, like, post *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT MAX(updated_at) FROM compatibility_scores WHERE viewer_id = $1::uuid),
			(SELECT MAX(created_at) FROM post_likes WHERE user_id = $1::uuid),
			(SELECT MAX(p.updated_at) FROM posts p
			 WHERE p.author_id = $1::uuid
			    OR p.author_id IN (SELECT followee_id FROM follows WHERE follower_id = $1::uuid))
	`, userID).Scan(&match, &like, &post)
	if err != nil {
		return domain.SignalTimestamps{}, fmt.Errorf("query latest signals: %w", err)
	}

	var ts domain.SignalTimestamps
	if match != nil {
		ts.LatestMatchScore = match.UTC()
	}
	if like != nil {
		ts.LatestLike = like.UTC()
	}
	if post != nil {
		ts.LatestPost = post.UTC()
	}
	return ts, nil
}

// ListUserIDs pages active users by id.
func (r *Repository) ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id::text FROM users
		WHERE deleted_at IS NULL AND ($1 = '' OR id > NULLIF($1, '')::uuid)
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return ids, nil
}
