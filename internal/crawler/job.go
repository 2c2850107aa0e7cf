package crawler

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures what a single crawl job should do.
type JobParameters struct {
	ListingURL string `json:"listing_url"`
	MaxReports int    `json:"max_reports"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job progress.
type JobCounters struct {
	StubsFound     int `json:"stubs_found"`
	ReportsSaved   int `json:"reports_saved"`
	ReportsSkipped int `json:"reports_skipped"`
	ReportsFailed  int `json:"reports_failed"`
}

// ReportStatus is the per-report outcome inside a job.
type ReportStatus string

// Report outcomes recorded against a job.
const (
	ReportStatusSaved   ReportStatus = "saved"
	ReportStatusSkipped ReportStatus = "skipped"
	ReportStatusFailed  ReportStatus = "failed"
)

// ReportRecord is persisted for each stub a job processed.
type ReportRecord struct {
	JobID          string       `json:"job_id"`
	Stub           ReportStub   `json:"stub"`
	Status         ReportStatus `json:"status"`
	Strategy       Strategy     `json:"strategy"`
	ExtractionRule string       `json:"extraction_rule,omitempty"`
	Length         int          `json:"length"`
	MessageID      string       `json:"message_id,omitempty"`
	ErrorText      string       `json:"error_text,omitempty"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// JobResult is returned by the job API and the run command.
type JobResult struct {
	Job     Job            `json:"job"`
	Reports []ReportRecord `json:"reports"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Submitted int64
}

// AnalysisRequest is handed to the analyzer for every saved report.
type AnalysisRequest struct {
	JobID       string        `json:"job_id"`
	Stub        ReportStub    `json:"stub"`
	Content     ReportContent `json:"content"`
	RequestedAt time.Time     `json:"requested_at"`
}
