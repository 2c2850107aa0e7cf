package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/config"
	"github.com/JakeFAU/research-report-crawler/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Headless.Backend = "none"
	cfg.Listing.API.Enabled = false
	return cfg
}

func TestNewBuildsMemoryServices(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Snapshot.Backend = config.BackendLocal
	cfg.Snapshot.LocalDir = filepath.Join(t.TempDir(), "snapshots")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Pipeline)
	require.NotNil(t, a.Runner)
	require.IsType(t, &memory.JobStore{}, a.JobStore)
	require.IsType(t, &memory.ReportStore{}, a.Reports)
	require.NotNil(t, a.Progress)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "store backend")

	cfg = testConfig(t)
	cfg.Publisher.Backend = "kafka"
	_, err = New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "publisher backend")

	cfg = testConfig(t)
	cfg.Snapshot.Backend = "s3"
	_, err = New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "snapshot backend")
}

func TestNewPostgresRequiresValidDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendPostgres
	cfg.Store.DSN = "not a dsn ://"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestPipelineConfigMapsSettings(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 4
	cfg.Headless.Settle = 3 * time.Second
	cfg.Headless.ListingScroll = true
	cfg.Headless.DetailScroll = false
	cfg.Listing.MinTitleRunes = 8
	cfg.Listing.API.DetailURLTemplate = "https://example.com/r?code=%s"
	cfg.Detail.MinTextRunes = 120

	pc := PipelineConfig(cfg)
	require.Equal(t, 4, pc.Retry.MaxAttempts)
	require.Equal(t, 3*time.Second, pc.ListingRender.Settle)
	require.True(t, pc.ListingRender.Scroll)
	require.False(t, pc.DetailRender.Scroll)
	require.Equal(t, cfg.Listing.AlternateURLs, pc.AlternateURLs)
	require.Equal(t, 8, pc.Listing.MinTitleRunes)
	require.Equal(t, "https://example.com/r?code=%s", pc.Listing.APILinkTemplate)
	require.Equal(t, 120, pc.Detail.MinTextRunes)
	require.NotEmpty(t, pc.Listing.RatingTokens)
}

func TestNewWithoutProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Progress.Enabled = false
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.Nil(t, a.Progress)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	a.Close()
	a.Close()
}
