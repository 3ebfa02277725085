package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
)

const jobColumns = `id, url, status, variants_total, variants_done, segments_done,
	images_total, images_done, resumed, error, started_at, finished_at`

func (s *SQLiteStore) SaveJob(ctx context.Context, job *domain.JobRecord) error {
	query := `INSERT OR REPLACE INTO jobs (` + jobColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var finished sql.NullString
	if job.FinishedAt != nil {
		finished = sql.NullString{String: job.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.URL,
		job.Status,
		job.VariantsTotal,
		job.VariantsDone,
		job.SegmentsDone,
		job.ImagesTotal,
		job.ImagesDone,
		job.Resumed,
		job.Error,
		job.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? LIMIT 1`, id)

	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	// KSUIDs sort chronologically
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.JobRecord
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(r rowScanner) (*domain.JobRecord, error) {
	job := &domain.JobRecord{}
	var started string
	var finished sql.NullString

	err := r.Scan(
		&job.ID, &job.URL, &job.Status,
		&job.VariantsTotal, &job.VariantsDone, &job.SegmentsDone,
		&job.ImagesTotal, &job.ImagesDone,
		&job.Resumed, &job.Error, &started, &finished,
	)
	if err != nil {
		return nil, err
	}

	if job.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("bad started_at for %s: %w", job.ID, err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("bad finished_at for %s: %w", job.ID, err)
		}
		job.FinishedAt = &t
	}
	return job, nil
}
