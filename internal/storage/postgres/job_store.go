package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// JobStore persists jobs and their per-report records.
type JobStore struct {
	db  DB
	now func() time.Time
}

// NewJobStore wraps an open pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	query := `
		INSERT INTO crawl_jobs (id, status, submitted_at, listing_url, max_reports)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Submitted,
		job.Parameters.ListingURL,
		job.Parameters.MaxReports,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets status and counters, stamping started/finished times
// on the first transition into running or a terminal state.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	query := `
		UPDATE crawl_jobs
		SET status = $2,
			error_text = $3,
			stubs_found = $4,
			reports_saved = $5,
			reports_skipped = $6,
			reports_failed = $7,
			started_at = CASE WHEN $8 AND started_at IS NULL THEN $10 ELSE started_at END,
			finished_at = CASE WHEN $9 AND finished_at IS NULL THEN $10 ELSE finished_at END
		WHERE id = $1;
	`
	res, err := s.db.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		counters.StubsFound,
		counters.ReportsSaved,
		counters.ReportsSkipped,
		counters.ReportsFailed,
		status == crawler.JobStatusRunning,
		status.Terminal(),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if res.RowsAffected() == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}

// RecordReport appends a per-report row.
func (s *JobStore) RecordReport(ctx context.Context, record crawler.ReportRecord) error {
	query := `
		INSERT INTO crawl_job_reports (
			job_id, link, title, industry, rating, org, publish_date, abstract,
			status, strategy, extraction_rule, content_length, message_id, error_text, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	_, err := s.db.Exec(ctx, query,
		record.JobID,
		record.Stub.Link,
		record.Stub.Title,
		record.Stub.Industry,
		record.Stub.Rating,
		record.Stub.Org,
		record.Stub.PublishDate,
		record.Stub.Abstract,
		string(record.Status),
		record.Strategy.String(),
		record.ExtractionRule,
		record.Length,
		record.MessageID,
		record.ErrorText,
		record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}
	return nil
}

// GetJob retrieves a single job by its ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, listing_url, max_reports,
			stubs_found, reports_saved, reports_skipped, reports_failed
		FROM crawl_jobs
		WHERE id = $1;
	`
	var (
		job    crawler.Job
		status string
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.Parameters.ListingURL,
		&job.Parameters.MaxReports,
		&job.Counters.StubsFound,
		&job.Counters.ReportsSaved,
		&job.Counters.ReportsSkipped,
		&job.Counters.ReportsFailed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, crawler.ErrJobNotFound
		}
		return crawler.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}

// ListReports returns a job's report rows in processing order.
func (s *JobStore) ListReports(ctx context.Context, jobID string) ([]crawler.ReportRecord, error) {
	query := `
		SELECT job_id, link, title, industry, rating, org, publish_date, abstract,
			status, strategy, extraction_rule, content_length, message_id, error_text, recorded_at
		FROM crawl_job_reports
		WHERE job_id = $1
		ORDER BY seq;
	`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	records := []crawler.ReportRecord{}
	for rows.Next() {
		var (
			rec      crawler.ReportRecord
			status   string
			strategy string
		)
		err := rows.Scan(
			&rec.JobID,
			&rec.Stub.Link,
			&rec.Stub.Title,
			&rec.Stub.Industry,
			&rec.Stub.Rating,
			&rec.Stub.Org,
			&rec.Stub.PublishDate,
			&rec.Stub.Abstract,
			&status,
			&strategy,
			&rec.ExtractionRule,
			&rec.Length,
			&rec.MessageID,
			&rec.ErrorText,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		rec.Status = crawler.ReportStatus(status)
		if err := rec.Strategy.UnmarshalText([]byte(strategy)); err != nil {
			return nil, fmt.Errorf("decode strategy: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return records, nil
}
