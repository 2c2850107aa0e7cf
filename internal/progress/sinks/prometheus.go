package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/research-report-crawler/internal/progress"
)

// PrometheusSink derives job-level gauges and histograms from the event
// stream.
type PrometheusSink struct {
	jobsRunning  prometheus.Gauge
	jobDuration  *prometheus.HistogramVec
	listingStubs prometheus.Histogram
	reportRunes  *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, reusing collectors
// a previous sink already registered there.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{running: make(map[string]struct{})}

	var err error
	if s.jobsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reportcrawler_jobs_running",
		Help: "Jobs currently executing.",
	})); err != nil {
		return nil, err
	}
	if s.jobDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportcrawler_job_duration_seconds",
		Help:    "Wall time per finished job, labeled by final status.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if s.listingStubs, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reportcrawler_listing_stubs",
		Help:    "Report stubs found per listing fetch.",
		Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
	})); err != nil {
		return nil, err
	}
	if s.reportRunes, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportcrawler_report_body_runes",
		Help:    "Extracted report body length in runes, labeled by acquisition strategy.",
		Buckets: []float64{0, 200, 500, 1000, 2000, 5000, 10000, 20000},
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case progress.StageListingDone:
			s.listingStubs.Observe(float64(evt.Stubs))
		case progress.StageReportDone:
			if evt.Runes > 0 {
				s.reportRunes.WithLabelValues(evt.Strategy.String()).Observe(float64(evt.Runes))
			}
		case progress.StageJobDone:
			if s.track(evt.JobID, false) {
				s.jobsRunning.Dec()
			}
			if evt.Dur > 0 {
				s.jobDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a job starting or finishing and reports whether the running
// set changed.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
