package crawler

import (
	"context"
	"io"
	"time"
)

// PageProvider performs a plain request for a URL.
type PageProvider interface {
	Fetch(ctx context.Context, url string) (RawPage, error)
}

// RenderedPageProvider loads a URL in a browser and returns the rendered DOM.
// Implementations return ErrRendererUnavailable when no browser can be started.
type RenderedPageProvider interface {
	Render(ctx context.Context, url string, opts RenderOptions) (RawPage, error)
}

// JobStore persists job and per-report metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordReport(ctx context.Context, record ReportRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListReports(ctx context.Context, jobID string) ([]ReportRecord, error)
}

// ReportStore persists extracted reports keyed by link.
type ReportStore interface {
	HasReport(ctx context.Context, link string) (bool, error)
	SaveReport(ctx context.Context, stub ReportStub, content ReportContent) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher hands payloads to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
