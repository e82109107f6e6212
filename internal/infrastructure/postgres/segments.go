package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/jackc/pgx/v5"
)

const upsertSegmentSQL = `
	INSERT INTO feed_segments (user_id, segment_index, items, phase1_json, algorithm_version, computed_at, expires_at)
	VALUES ($1::uuid, $2, $3::jsonb, $4, $5, $6, $7)
	ON CONFLICT (user_id, segment_index) DO UPDATE SET
		items = EXCLUDED.items,
		phase1_json = EXCLUDED.phase1_json,
		algorithm_version = EXCLUDED.algorithm_version,
		computed_at = EXCLUDED.computed_at,
		expires_at = EXCLUDED.expires_at
`

// UpsertSegment is last-writer-wins on (user_id, segment_index).
func (r *Repository) UpsertSegment(ctx context.Context, row domain.SegmentRow) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, upsertSegmentSQL,
		row.UserID, row.Index, string(row.Items), row.Phase1JSON, row.AlgorithmVersion, row.ComputedAt, row.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert segment %s/%d: %w", row.UserID, row.Index, err)
	}
	return nil
}

// ReplaceSegments writes rows and deletes every other index of the user in
// one transaction. Empty rows deletes all of the user's segments.
func (r *Repository) ReplaceSegments(ctx context.Context, userID string, rows []domain.SegmentRow) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace segments: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM feed_segments WHERE user_id = $1::uuid AND segment_index >= $2`, userID, len(rows)); err != nil {
		return fmt.Errorf("delete stale segments: %w", err)
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(upsertSegmentSQL,
				userID, row.Index, string(row.Items), row.Phase1JSON, row.AlgorithmVersion, row.ComputedAt, row.ExpiresAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write segments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit segments: %w", err)
	}
	return nil
}

func (r *Repository) GetSegment(ctx context.Context, userID string, index int) (*domain.SegmentRow, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := domain.SegmentRow{UserID: userID, Index: index}
	var items string
	err := r.pool.QueryRow(ctx, `
		SELECT items::text, phase1_json, algorithm_version, computed_at, expires_at
		FROM feed_segments
		WHERE user_id = $1::uuid AND segment_index = $2
	`, userID, index).Scan(&items, &row.Phase1JSON, &row.AlgorithmVersion, &row.ComputedAt, &row.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %s/%d: %w", userID, index, err)
	}
	row.Items = []byte(items)
	return &row, nil
}

func (r *Repository) DeleteSegments(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM feed_segments WHERE user_id = $1::uuid`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete segments %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredSegments removes segments past expiry; reads already treat
// them as misses.
func (r *Repository) DeleteExpiredSegments(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM feed_segments WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired segments: %w", err)
	}
	return tag.RowsAffected(), nil
}
