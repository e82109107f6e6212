package postgres

import (
	"context"
	"fmt"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

func (r *Repository) ActorProfiles(ctx context.Context, ids []string) (map[string]domain.ActorProfile, error) {
	out := make(map[string]domain.ActorProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT u.id::text, COALESCE(pr.display_name, ''), COALESCE(pr.avatar_key, ''), COALESCE(pr.age, 0), COALESCE(pr.city, '')
		FROM users u
		LEFT JOIN profiles pr ON pr.user_id = u.id
		WHERE u.id = ANY($1::text[]::uuid[]) AND u.deleted_at IS NULL
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query actor profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ActorProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarKey, &p.Age, &p.City); err != nil {
			return nil, fmt.Errorf("scan actor profile: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor profiles: %w", err)
	}
	return out, nil
}

// PostMedia returns assets per post in display order.
func (r *Repository) PostMedia(ctx context.Context, postIDs []string) (map[string][]domain.MediaAsset, error) {
	out := make(map[string][]domain.MediaAsset, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id::text, post_id::text, kind, storage_key, width, height
		FROM post_media
		WHERE post_id = ANY($1::text[]::uuid[])
		ORDER BY post_id, position, id
	`, postIDs)
	if err != nil {
		return nil, fmt.Errorf("query post media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.MediaAsset
		var kind string
		if err := rows.Scan(&m.ID, &m.PostID, &kind, &m.StorageKey, &m.Width, &m.Height); err != nil {
			return nil, fmt.Errorf("scan post media: %w", err)
		}
		m.Kind = domain.MediaType(kind)
		out[m.PostID] = append(out[m.PostID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post media: %w", err)
	}
	return out, nil
}

func (r *Repository) PostStats(ctx context.Context, postIDs []string) (map[string]domain.EngagementStats, error) {
	out := make(map[string]domain.EngagementStats, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT p.id::text,
			(SELECT COUNT(*) FROM post_likes l WHERE l.post_id = p.id),
			(SELECT COUNT(*) FROM post_comments c WHERE c.post_id = p.id)
		FROM posts p
		WHERE p.id = ANY($1::text[]::uuid[])
	`, postIDs)
	if err != nil {
		return nil, fmt.Errorf("query post stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var s domain.EngagementStats
		if err := rows.Scan(&id, &s.Likes, &s.Comments); err != nil {
			return nil, fmt.Errorf("scan post stats: %w", err)
		}
		out[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post stats: %w", err)
	}
	return out, nil
}
