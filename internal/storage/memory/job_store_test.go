package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}
	record := crawler.ReportRecord{
		JobID:  job.ID,
		Stub:   crawler.ReportStub{Link: "https://example.com/r/1"},
		Status: crawler.ReportStatusSaved,
	}
	if err := store.RecordReport(ctx, record); err != nil {
		t.Fatalf("RecordReport() error = %v", err)
	}
	reports, err := store.ListReports(ctx, job.ID)
	if err != nil || len(reports) != 1 {
		t.Fatalf("ListReports() unexpected result: reports=%v err=%v", reports, err)
	}
	reports[0].Stub.Link = "modified"
	if store.reports[job.ID][0].Stub.Link != "https://example.com/r/1" {
		t.Fatal("expected ListReports to return a copy")
	}

	err = store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusSucceeded, "", crawler.JobCounters{ReportsSaved: 1})
	if err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Started == nil || final.Finished == nil {
		t.Fatalf("expected start and finish timestamps, got %+v", final)
	}
	if final.Counters.ReportsSaved != 1 || final.Status != crawler.JobStatusSucceeded {
		t.Fatalf("unexpected final job %+v", final)
	}
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.RecordReport(ctx, crawler.ReportRecord{JobID: "missing"}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.UpdateJobStatus(ctx, "missing", crawler.JobStatusFailed, "", crawler.JobCounters{}); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
