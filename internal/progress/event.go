// Package progress streams job lifecycle events from the worker to sinks
// without blocking the crawl.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Stage names the milestone an Event records.
type Stage string

// Job milestones, in the order a job emits them.
const (
	StageJobStart    Stage = "JOB_START"
	StageListingDone Stage = "LISTING_DONE"
	StageReportDone  Stage = "REPORT_DONE"
	StageJobDone     Stage = "JOB_DONE"
)

// Event is one job milestone.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// URL is the listing for job and listing events, the report link for
	// report events.
	URL string
	// Stubs counts the stubs found; set on LISTING_DONE.
	Stubs int
	// Status is the report status on REPORT_DONE and the job status on
	// JOB_DONE.
	Status   string
	Strategy crawler.Strategy
	Runes    int
	// Dur is the job wall time on JOB_DONE.
	Dur  time.Duration
	Note string
}

// Validate rejects events sinks could not make sense of.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageListingDone:
	case StageReportDone:
		if e.URL == "" {
			return errors.New("report event requires url")
		}
		if e.Status == "" {
			return errors.New("report event requires status")
		}
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done event requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Stubs < 0 || e.Runes < 0 {
		return errors.New("counts and durations must be >= 0")
	}
	return nil
}
