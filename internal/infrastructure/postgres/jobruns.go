package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// JobRunRecorder writes one job_runs row per execution. Recording failures
// are logged and never fail the job itself.
type JobRunRecorder struct {
	db    *sql.DB
	clock domain.Clock
	log   zerolog.Logger
}

func NewJobRunRecorder(db *sql.DB, clock domain.Clock, log zerolog.Logger) *JobRunRecorder {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &JobRunRecorder{db: db, clock: clock, log: log.With().Str("component", "job_runs").Logger()}
}

func (r *JobRunRecorder) RunJob(ctx context.Context, spec domain.JobSpec, fn func(ctx context.Context) (map[string]any, error)) error {
	id := uuid.NewString()
	started := r.clock.Now()

	if err := r.start(ctx, id, spec, started); err != nil {
		r.log.Warn().Err(err).Str("job", spec.JobName).Msg("record job start failed")
	}

	summary, runErr := fn(ctx)

	finished := r.clock.Now()
	// the run's own ctx may already be cancelled; still record the outcome
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.finish(fctx, id, summary, runErr, finished, finished.Sub(started)); err != nil {
		r.log.Warn().Err(err).Str("job", spec.JobName).Str("run_id", id).Msg("record job finish failed")
	}
	return runErr
}

func (r *JobRunRecorder) start(ctx context.Context, id string, spec domain.JobSpec, at time.Time) error {
	meta := spec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_name, trigger, scope, algorithm_version, status, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, spec.JobName, spec.Trigger, spec.Scope, spec.AlgorithmVersion, JobStatusRunning, string(metaJSON), at)
	return err
}

func (r *JobRunRecorder) finish(ctx context.Context, id string, summary map[string]any, runErr error, at time.Time, d time.Duration) error {
	status := JobStatusSuccess
	var errText sql.NullString
	if runErr != nil {
		status = JobStatusFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	var summaryJSON sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $2, summary = $3, error = $4, finished_at = $5, duration_ms = $6
		WHERE id = $1
	`, id, status, summaryJSON, errText, at, d.Milliseconds())
	return err
}

// RecentRuns lists the newest runs of a job, newest first.
func (r *JobRunRecorder) RecentRuns(ctx context.Context, jobName string, limit int) ([]JobRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trigger, scope, status, COALESCE(error, ''), started_at, finished_at, COALESCE(duration_ms, 0)
		FROM job_runs
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		run := JobRun{JobName: jobName}
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Trigger, &run.Scope, &run.Status, &run.Error, &run.StartedAt, &finished, &run.DurationMS); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type JobRun struct {
	ID         string     `json:"id"`
	JobName    string     `json:"jobName"`
	Trigger    string     `json:"trigger"`
	Scope      string     `json:"scope"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMS int64      `json:"durationMs"`
}
