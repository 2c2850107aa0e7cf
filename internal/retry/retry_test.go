package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestOrchestrator(maxAttempts int, sleeper *recordingSleeper) *Orchestrator {
	return New(Config{MaxAttempts: maxAttempts, BaseDelay: 10 * time.Millisecond, Backoff: BackoffFixed}, nil,
		WithSleeper(sleeper.sleep))
}

func TestAttemptRetriesNetworkErrorsThenEscalates(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(3, sleeper)
	calls := 0
	_, attempts, err := o.Attempt(context.Background(), crawler.StrategyHTTP,
		func(context.Context) (crawler.RawPage, error) {
			calls++
			return crawler.RawPage{}, errors.New("dial tcp: connection refused")
		}, nil)

	require.ErrorIs(t, err, ErrEscalate)
	require.Equal(t, 3, calls)
	require.Len(t, attempts, 3)
	require.Len(t, sleeper.delays, 2)
	for _, a := range attempts {
		require.Equal(t, crawler.OutcomeNetworkError, a.Outcome)
	}
}

func TestAttemptSucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(3, &recordingSleeper{})
	calls := 0
	page, attempts, err := o.Attempt(context.Background(), crawler.StrategyHTTP,
		func(context.Context) (crawler.RawPage, error) {
			calls++
			if calls == 1 {
				return crawler.RawPage{}, &crawler.StatusError{Code: http.StatusServiceUnavailable}
			}
			return crawler.RawPage{Content: "<html>ok</html>", Strategy: crawler.StrategyHTTP}, nil
		}, nil)

	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", page.Content)
	require.Len(t, attempts, 2)
	require.Equal(t, crawler.OutcomeSuccess, attempts[1].Outcome)
}

func TestAttemptEscalatesImmediatelyOnRejectedContent(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(3, sleeper)
	calls := 0
	page, attempts, err := o.Attempt(context.Background(), crawler.StrategyHTTP,
		func(context.Context) (crawler.RawPage, error) {
			calls++
			return crawler.RawPage{Content: "<div id=\"app\"></div>"}, nil
		},
		func(crawler.RawPage) error { return fmt.Errorf("no stubs: %w", crawler.ErrEmptyContent) })

	require.ErrorIs(t, err, ErrEscalate)
	require.ErrorIs(t, err, crawler.ErrEmptyContent)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.delays)
	require.Equal(t, crawler.OutcomeEmpty, attempts[0].Outcome)
	require.NotEmpty(t, page.Content)
}

func TestAttemptClientErrorEscalatesWithoutRetry(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(3, &recordingSleeper{})
	calls := 0
	_, _, err := o.Attempt(context.Background(), crawler.StrategyHTTP,
		func(context.Context) (crawler.RawPage, error) {
			calls++
			return crawler.RawPage{}, &crawler.StatusError{Code: http.StatusNotFound}
		}, nil)

	require.ErrorIs(t, err, ErrEscalate)
	require.Equal(t, 1, calls)
}

func TestAttemptPassesRendererUnavailableThrough(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(3, &recordingSleeper{})
	_, _, err := o.Attempt(context.Background(), crawler.StrategyRendered,
		func(context.Context) (crawler.RawPage, error) {
			return crawler.RawPage{}, fmt.Errorf("launch: %w", crawler.ErrRendererUnavailable)
		}, nil)

	require.ErrorIs(t, err, crawler.ErrRendererUnavailable)
	require.NotErrorIs(t, err, ErrEscalate)
}

func TestAttemptStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(3, &recordingSleeper{})
	calls := 0
	_, _, err := o.Attempt(ctx, crawler.StrategyHTTP,
		func(context.Context) (crawler.RawPage, error) {
			calls++
			return crawler.RawPage{}, nil
		}, nil)

	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	o := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, nil)
	for attempt := 1; attempt <= 6; attempt++ {
		d := o.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}

	fixed := New(Config{BaseDelay: 200 * time.Millisecond, Backoff: BackoffFixed}, nil)
	require.Equal(t, 200*time.Millisecond, fixed.Backoff(5))
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	o := New(Config{}, nil)
	require.Equal(t, 3, o.MaxAttempts())
	require.Equal(t, BackoffExponential, o.cfg.Backoff)
}
