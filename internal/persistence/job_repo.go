package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bambulink/internal/domain"
)

// JobRepo records the lifecycle of every print job the engine observed.
type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Upsert(ctx context.Context, job domain.Job) error {
	var endedAt any
	if !job.EndedAt.IsZero() {
		endedAt = toUnixMillis(job.EndedAt)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs(job_id, file, source, phase, started_at, ended_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			file = excluded.file,
			source = excluded.source,
			phase = excluded.phase,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`, job.ID, job.File, string(job.Source), job.Phase.String(),
		toUnixMillis(job.StartedAt), endedAt, toUnixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// ListRecent returns up to limit jobs, newest first.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, file, source, phase, started_at, ended_at
		FROM jobs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0, limit)
	for rows.Next() {
		var (
			job       domain.Job
			source    string
			phase     string
			startedMs int64
			endedMs   sql.NullInt64
		)
		if err := rows.Scan(&job.ID, &job.File, &source, &phase, &startedMs, &endedMs); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Source = domain.JobSource(source)
		job.Phase = parseJobPhase(phase)
		job.StartedAt = fromUnixMillis(startedMs)
		if endedMs.Valid {
			job.EndedAt = fromUnixMillis(endedMs.Int64)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func parseJobPhase(raw string) domain.JobPhase {
	for phase := domain.JobPhaseNone; phase <= domain.JobPhaseFailed; phase++ {
		if phase.String() == raw {
			return phase
		}
	}
	return domain.JobPhaseNone
}
