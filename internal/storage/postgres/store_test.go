package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestReportStore_SaveReportInsertsRow(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewReportStore(mock, "reports")
	require.NoError(t, err)

	stub := crawler.ReportStub{
		Title:       "白酒行业深度报告",
		Link:        "https://data.eastmoney.com/report/zw_industry.jshtml?infocode=A1",
		Industry:    "食品饮料",
		Rating:      "买入",
		Org:         "中信证券",
		PublishDate: "2024-03-01",
		Abstract:    "行业: 食品饮料, 评级: 买入, 机构: 中信证券, 日期: 2024-03-01",
	}
	content := crawler.NewReportContent(stub.Link, "正文", "primary", crawler.StrategyRendered)

	mock.ExpectExec("INSERT INTO reports").
		WithArgs(
			stub.Link,
			stub.Title,
			stub.Industry,
			stub.Rating,
			stub.Org,
			stub.PublishDate,
			stub.Abstract,
			"正文",
			"primary",
			"RENDERED",
			2,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveReport(context.Background(), stub, content))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportStore_SaveReportRequiresLink(t *testing.T) {
	t.Parallel()

	store, err := NewReportStore(newMock(t), "")
	require.NoError(t, err)
	require.Error(t, store.SaveReport(context.Background(), crawler.ReportStub{}, crawler.ReportContent{}))
}

func TestReportStore_HasReport(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewReportStore(mock, "research_reports")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://example.com/a").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://example.com/b").
		WillReturnError(errors.New("connection lost"))

	ok, err := store.HasReport(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.HasReport(context.Background(), "https://example.com/b")
	require.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewReportStoreValidatesTable(t *testing.T) {
	t.Parallel()

	_, err := NewReportStore(newMock(t), "reports; DROP TABLE x")
	require.Error(t, err)
	_, err = NewReportStore(nil, "reports")
	require.Error(t, err)
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reports").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_job_reports").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_Lifecycle(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	job := crawler.Job{
		ID:         "job-1",
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: crawler.JobParameters{ListingURL: "https://data.eastmoney.com/report/industry.jshtml", MaxReports: 5},
	}
	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "queued", now, job.Parameters.ListingURL, 5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-1", "running", "", 0, 0, 0, 0, true, false, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("missing", "failed", "boom", 0, 0, 0, 0, false, true, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawler.JobStatusRunning, "", crawler.JobCounters{}))
	err = store.UpdateJobStatus(ctx, "missing", crawler.JobStatusFailed, "boom", crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_GetJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)

	submitted := time.Unix(1700000000, 0).UTC()
	started := submitted.Add(time.Second)
	finished := submitted.Add(time.Minute)
	columns := []string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "listing_url", "max_reports",
		"stubs_found", "reports_saved", "reports_skipped", "reports_failed",
	}
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows(columns).
			AddRow("job-1", "succeeded", submitted, &started, &finished, "", "https://example.com", 5, 3, 2, 1, 0))
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{StubsFound: 3, ReportsSaved: 2, ReportsSkipped: 1}, job.Counters)
	require.NotNil(t, job.Finished)
	require.Equal(t, finished, *job.Finished)

	_, err = store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_RecordAndListReports(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)

	recorded := time.Unix(1700000100, 0).UTC()
	rec := crawler.ReportRecord{
		JobID:          "job-1",
		Stub:           crawler.ReportStub{Title: "报告", Link: "https://example.com/r1", Industry: "电子"},
		Status:         crawler.ReportStatusSaved,
		Strategy:       crawler.StrategyHTTP,
		ExtractionRule: "primary",
		Length:         321,
		MessageID:      "m-1",
		RecordedAt:     recorded,
	}
	mock.ExpectExec("INSERT INTO crawl_job_reports").
		WithArgs("job-1", rec.Stub.Link, rec.Stub.Title, "电子", "", "", "", "",
			"saved", "HTTP", "primary", 321, "m-1", "", recorded).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	columns := []string{
		"job_id", "link", "title", "industry", "rating", "org", "publish_date", "abstract",
		"status", "strategy", "extraction_rule", "content_length", "message_id", "error_text", "recorded_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM crawl_job_reports").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows(columns).
			AddRow("job-1", rec.Stub.Link, rec.Stub.Title, "电子", "", "", "", "",
				"saved", "HTTP", "primary", 321, "m-1", "", recorded))

	ctx := context.Background()
	require.NoError(t, store.RecordReport(ctx, rec))
	got, err := store.ListReports(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.ReportRecord{rec}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
