package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// ReportStore keeps extracted reports keyed by link.
type ReportStore struct {
	db    DB
	table string
}

// NewReportStore wraps an open pool.
func NewReportStore(db DB, table string) (*ReportStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ReportStore{db: db, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// HasReport reports whether link was saved before.
func (s *ReportStore) HasReport(ctx context.Context, link string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE link = $1)`, s.table)
	if err := s.db.QueryRow(ctx, query, link).Scan(&exists); err != nil {
		return false, fmt.Errorf("check report: %w", err)
	}
	return exists, nil
}

// SaveReport inserts the report; an existing link is left untouched.
func (s *ReportStore) SaveReport(ctx context.Context, stub crawler.ReportStub, content crawler.ReportContent) error {
	if stub.Link == "" {
		return fmt.Errorf("report link is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	link,
	title,
	industry,
	rating,
	org,
	publish_date,
	abstract,
	body_text,
	extraction_rule,
	strategy,
	content_length
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (link) DO NOTHING`, s.table)

	args := []any{
		stub.Link,
		stub.Title,
		stub.Industry,
		stub.Rating,
		stub.Org,
		stub.PublishDate,
		stub.Abstract,
		content.BodyText,
		content.ExtractionRule,
		content.Strategy.String(),
		content.Length,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
