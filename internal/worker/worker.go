// Package worker runs crawl jobs: fetch a listing, then fetch, store and
// hand off each new report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
	"github.com/JakeFAU/research-report-crawler/internal/progress"
)

// ReportSource is the crawl pipeline as seen by the worker.
type ReportSource interface {
	FetchListing(ctx context.Context, url string) []crawler.ReportStub
	FetchDetail(ctx context.Context, url string) crawler.ReportContent
}

// Pacer spaces consecutive detail fetches.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Runner behavior.
type Config struct {
	ListingURL      string
	MaxReports      int
	MinContentRunes int
	// Topic receives one AnalysisRequest per saved report. Empty disables
	// publishing.
	Topic string
}

// Runner consumes queued jobs and executes them one at a time.
type Runner struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	reports   crawler.ReportStore
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	source    ReportSource
	pacer     Pacer
	cfg       Config
	logger    *zap.Logger
	progress  progress.Emitter

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// ErrJobFinished is returned by Cancel for jobs already in a terminal state.
var ErrJobFinished = errors.New("job already finished")

// New constructs a Runner.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	reports crawler.ReportStore,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	source ReportSource,
	pacer Pacer,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = 5
	}
	if cfg.MinContentRunes <= 0 {
		cfg.MinContentRunes = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:     queue,
		jobStore:  jobStore,
		reports:   reports,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		source:    source,
		pacer:     pacer,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// WithProgress routes job milestones to e. It must be called before the
// runner starts.
func (r *Runner) WithProgress(e progress.Emitter) *Runner {
	r.progress = e
	return r
}

// Submit records a queued job and enqueues it.
func (r *Runner) Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	job, err := r.create(ctx, params)
	if err != nil {
		return crawler.Job{}, err
	}
	item := crawler.QueueItem{JobID: job.ID, Params: job.Parameters, Submitted: job.Submitted.UnixNano()}
	if err := r.queue.Enqueue(ctx, item); err != nil {
		if uerr := r.jobStore.UpdateJobStatus(ctx, job.ID, crawler.JobStatusFailed, "enqueue failed", crawler.JobCounters{}); uerr != nil {
			r.logger.Error("fail job status update", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return crawler.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	r.logger.Info("job queued", zap.String("job_id", job.ID), zap.String("url", job.Parameters.ListingURL))
	return job, nil
}

// RunOnce creates a job and executes it synchronously.
func (r *Runner) RunOnce(ctx context.Context, params crawler.JobParameters) (crawler.JobResult, error) {
	job, err := r.create(ctx, params)
	if err != nil {
		return crawler.JobResult{}, err
	}
	return r.Execute(ctx, crawler.QueueItem{JobID: job.ID, Params: job.Parameters, Submitted: job.Submitted.UnixNano()}), nil
}

func (r *Runner) create(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	if params.ListingURL == "" {
		params.ListingURL = r.cfg.ListingURL
	}
	if params.ListingURL == "" {
		return crawler.Job{}, errors.New("listing url is required")
	}
	if params.MaxReports <= 0 {
		params.MaxReports = r.cfg.MaxReports
	}
	id, err := r.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  r.clock.Now(),
		Parameters: params,
	}
	if err := r.jobStore.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusQueued))
	return job, nil
}

// Run blocks, consuming queue items until the context finishes.
func (r *Runner) Run(ctx context.Context) {
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		r.Execute(ctx, item)
	}
}

// Cancel stops a running job or marks a queued one canceled so the runner
// skips it.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[jobID]; ok {
		cancel()
		r.logger.Info("job cancel requested", zap.String("job_id", jobID))
		return nil
	}
	job, err := r.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}
	if err := r.jobStore.UpdateJobStatus(ctx, jobID, crawler.JobStatusCanceled, "canceled before start", job.Counters); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusCanceled))
	return nil
}

// Execute runs one job to completion and returns its result.
func (r *Runner) Execute(parent context.Context, item crawler.QueueItem) crawler.JobResult {
	logger := r.logger.With(zap.String("job_id", item.JobID))
	counters := crawler.JobCounters{}
	// Status writes must land even after the job context is canceled.
	storeCtx := context.WithoutCancel(parent)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The status check and registration happen together under r.mu; a
	// Cancel either marks the job first or finds it in r.active.
	r.mu.Lock()
	if job, err := r.jobStore.GetJob(storeCtx, item.JobID); err == nil && job.Status.Terminal() {
		r.mu.Unlock()
		logger.Info("skipping job", zap.String("status", string(job.Status)))
		return r.snapshot(storeCtx, job)
	}
	r.active[item.JobID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, item.JobID)
		r.mu.Unlock()
	}()

	if err := r.jobStore.UpdateJobStatus(storeCtx, item.JobID, crawler.JobStatusRunning, "", counters); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return r.result(storeCtx, item, crawler.JobStatusFailed, err.Error(), counters)
	}
	metrics.ObserveJob(string(crawler.JobStatusRunning))

	url := item.Params.ListingURL
	if url == "" {
		url = r.cfg.ListingURL
	}
	r.emit(progress.Event{JobID: item.JobID, Stage: progress.StageJobStart, URL: url})
	stubs := r.source.FetchListing(ctx, url)
	counters.StubsFound = len(stubs)
	logger.Info("listing parsed", zap.String("url", url), zap.Int("stubs", len(stubs)))
	r.emit(progress.Event{JobID: item.JobID, Stage: progress.StageListingDone, URL: url, Stubs: len(stubs)})

	limit := item.Params.MaxReports
	if limit <= 0 {
		limit = r.cfg.MaxReports
	}
	if len(stubs) > limit {
		stubs = stubs[:limit]
	}

	errText := ""
	for _, stub := range stubs {
		if ctx.Err() != nil {
			break
		}
		record := r.handleReport(ctx, item.JobID, stub, &counters)
		if record.Status == crawler.ReportStatusFailed {
			errText = record.ErrorText
		}
		metrics.ObserveReport(string(record.Status))
		r.emit(progress.Event{
			JobID:    item.JobID,
			Stage:    progress.StageReportDone,
			URL:      stub.Link,
			Status:   string(record.Status),
			Strategy: record.Strategy,
			Runes:    record.Length,
			Note:     record.ErrorText,
		})
		if err := r.jobStore.RecordReport(storeCtx, record); err != nil {
			logger.Error("record report failed", zap.String("link", stub.Link), zap.Error(err))
		}
	}

	status, errText := r.deriveFinalStatus(ctx, counters, errText)
	return r.result(storeCtx, item, status, errText, counters)
}

func (r *Runner) handleReport(
	ctx context.Context,
	jobID string,
	stub crawler.ReportStub,
	counters *crawler.JobCounters,
) crawler.ReportRecord {
	record := crawler.ReportRecord{JobID: jobID, Stub: stub}
	logger := r.logger.With(zap.String("job_id", jobID), zap.String("link", stub.Link))

	exists, err := r.reports.HasReport(ctx, stub.Link)
	if err != nil {
		logger.Warn("report lookup failed, fetching anyway", zap.Error(err))
	}
	if exists {
		counters.ReportsSkipped++
		record.Status = crawler.ReportStatusSkipped
		record.RecordedAt = r.clock.Now()
		logger.Debug("report already stored")
		return record
	}

	if r.pacer != nil {
		if err := r.pacer.Wait(ctx, stub.Link); err != nil {
			return r.failed(record, counters, fmt.Errorf("pace detail fetch: %w", err))
		}
	}

	content := r.source.FetchDetail(ctx, stub.Link)
	record.Strategy = content.Strategy
	record.ExtractionRule = content.ExtractionRule
	record.Length = content.Length
	if content.Length < r.cfg.MinContentRunes {
		return r.failed(record, counters, fmt.Errorf("report body has %d runes, need %d", content.Length, r.cfg.MinContentRunes))
	}

	if err := r.reports.SaveReport(ctx, stub, content); err != nil {
		return r.failed(record, counters, fmt.Errorf("save report: %w", err))
	}

	msgID, err := r.publish(ctx, jobID, stub, content)
	if err != nil {
		return r.failed(record, counters, err)
	}
	record.MessageID = msgID
	record.Status = crawler.ReportStatusSaved
	record.RecordedAt = r.clock.Now()
	counters.ReportsSaved++
	logger.Info("report saved",
		zap.Stringer("strategy", content.Strategy),
		zap.String("rule", content.ExtractionRule),
		zap.Int("runes", content.Length),
	)
	return record
}

func (r *Runner) publish(ctx context.Context, jobID string, stub crawler.ReportStub, content crawler.ReportContent) (string, error) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return "", nil
	}
	payload := crawler.AnalysisRequest{
		JobID:       jobID,
		Stub:        stub,
		Content:     content,
		RequestedAt: r.clock.Now(),
	}
	msgID, err := r.publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		return "", fmt.Errorf("publish analysis request: %w", err)
	}
	return msgID, nil
}

func (r *Runner) failed(record crawler.ReportRecord, counters *crawler.JobCounters, err error) crawler.ReportRecord {
	counters.ReportsFailed++
	record.Status = crawler.ReportStatusFailed
	record.ErrorText = err.Error()
	record.RecordedAt = r.clock.Now()
	r.logger.Warn("report failed",
		zap.String("job_id", record.JobID),
		zap.String("link", record.Stub.Link),
		zap.Error(err),
	)
	return record
}

func (r *Runner) deriveFinalStatus(
	ctx context.Context,
	counters crawler.JobCounters,
	errText string,
) (crawler.JobStatus, string) {
	if counters.StubsFound == 0 && errText == "" {
		errText = "no reports found on listing"
	}

	switch {
	case ctx.Err() != nil:
		return crawler.JobStatusCanceled, errText
	case counters.StubsFound == 0:
		return crawler.JobStatusFailed, errText
	case counters.ReportsSaved == 0 && counters.ReportsFailed > 0:
		return crawler.JobStatusFailed, errText
	default:
		return crawler.JobStatusSucceeded, errText
	}
}

func (r *Runner) result(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) crawler.JobResult {
	if err := r.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		r.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	r.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("saved", counters.ReportsSaved),
		zap.Int("skipped", counters.ReportsSkipped),
		zap.Int("failed", counters.ReportsFailed),
	)

	job, err := r.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		job = crawler.Job{ID: item.JobID, Status: status, ErrorText: errText, Parameters: item.Params, Counters: counters}
	}
	done := progress.Event{JobID: item.JobID, Stage: progress.StageJobDone, Status: string(status), Note: errText}
	if job.Started != nil {
		done.Dur = max(r.clock.Now().Sub(*job.Started), 0)
	}
	r.emit(done)
	reports, err := r.jobStore.ListReports(ctx, item.JobID)
	if err != nil {
		r.logger.Warn("list reports failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	return crawler.JobResult{Job: job, Reports: reports}
}

func (r *Runner) emit(evt progress.Event) {
	if r.progress == nil {
		return
	}
	evt.TS = r.clock.Now()
	r.progress.Emit(evt)
}

func (r *Runner) snapshot(ctx context.Context, job crawler.Job) crawler.JobResult {
	reports, err := r.jobStore.ListReports(ctx, job.ID)
	if err != nil {
		r.logger.Warn("list reports failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return crawler.JobResult{Job: job, Reports: reports}
}
