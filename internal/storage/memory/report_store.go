package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// StoredReport pairs a stub with its extracted content.
type StoredReport struct {
	Stub    crawler.ReportStub
	Content crawler.ReportContent
}

// ReportStore keeps reports keyed by link, in insertion order.
type ReportStore struct {
	mu     sync.RWMutex
	byLink map[string]StoredReport
	order  []string
}

// NewReportStore constructs a ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{byLink: make(map[string]StoredReport)}
}

// HasReport reports whether a report with this link was saved.
func (s *ReportStore) HasReport(_ context.Context, link string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byLink[link]
	return ok, nil
}

// SaveReport stores the report; saving an existing link is a no-op.
func (s *ReportStore) SaveReport(_ context.Context, stub crawler.ReportStub, content crawler.ReportContent) error {
	if stub.Link == "" {
		return fmt.Errorf("report link is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byLink[stub.Link]; ok {
		return nil
	}
	s.byLink[stub.Link] = StoredReport{Stub: stub, Content: content}
	s.order = append(s.order, stub.Link)
	return nil
}

// Reports returns saved reports in insertion order.
func (s *ReportStore) Reports() []StoredReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredReport, 0, len(s.order))
	for _, link := range s.order {
		out = append(out, s.byLink[link])
	}
	return out
}
