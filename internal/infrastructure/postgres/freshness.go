package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (r *Repository) GetFreshness(ctx context.Context, jobName, scope string) (domain.FreshnessRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec := domain.FreshnessRecord{JobName: jobName, Scope: scope}
	err := r.pool.QueryRow(ctx, `
		SELECT input_hash, computed_at FROM job_freshness WHERE job_name = $1 AND scope = $2
	`, jobName, scope).Scan(&rec.InputHash, &rec.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FreshnessRecord{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.FreshnessRecord{}, fmt.Errorf("get freshness %s/%s: %w", jobName, scope, err)
	}
	return rec, nil
}

func (r *Repository) UpsertFreshness(ctx context.Context, rec domain.FreshnessRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_freshness (job_name, scope, input_hash, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_name, scope) DO UPDATE SET
			input_hash = EXCLUDED.input_hash,
			computed_at = EXCLUDED.computed_at
	`, rec.JobName, rec.Scope, rec.InputHash, rec.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert freshness %s/%s: %w", rec.JobName, rec.Scope, err)
	}
	return nil
}

func (r *Repository) DeleteFreshness(ctx context.Context, jobName, scope string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM job_freshness WHERE job_name = $1 AND scope = $2`, jobName, scope); err != nil {
		return fmt.Errorf("delete freshness %s/%s: %w", jobName, scope, err)
	}
	return nil
}
