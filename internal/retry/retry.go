// Package retry runs one acquisition tier with bounded retries and decides
// whether the caller should escalate to the next tier.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
)

// Backoff modes.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ErrEscalate is returned when the tier is done and the next one should run.
var ErrEscalate = errors.New("escalate to next strategy")

// Config bounds the retries of a single tier.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     string
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Orchestrator drives the attempt loop for one tier at a time.
type Orchestrator struct {
	cfg    Config
	sleep  Sleeper
	logger *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the context-aware sleep used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// New builds an Orchestrator, filling unset values with defaults.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffExponential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{cfg: cfg, sleep: sleepContext, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxAttempts returns the per-tier attempt bound.
func (o *Orchestrator) MaxAttempts() int {
	return o.cfg.MaxAttempts
}

// Attempt runs fn until it yields a page that passes check, the retry bound
// is reached, or the failure is one that retrying cannot fix.
//
// A nil error means success. Errors wrapping ErrEscalate tell the caller to
// move on; ErrRendererUnavailable is passed through untouched so the caller
// can disable the tier; context errors stop the whole fetch.
func (o *Orchestrator) Attempt(
	ctx context.Context,
	strategy crawler.Strategy,
	fn func(context.Context) (crawler.RawPage, error),
	check func(crawler.RawPage) error,
) (crawler.RawPage, []crawler.FetchAttempt, error) {
	var attempts []crawler.FetchAttempt
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return crawler.RawPage{}, attempts, fmt.Errorf("%s fetch canceled: %w", strategy, err)
		}
		start := time.Now()
		page, err := fn(ctx)
		if err == nil && check != nil {
			err = check(page)
		}
		outcome := crawler.ClassifyError(err)
		elapsed := time.Since(start)
		attempts = append(attempts, crawler.FetchAttempt{
			Strategy: strategy,
			Attempt:  attempt,
			Outcome:  outcome,
			Duration: elapsed,
			Err:      err,
		})
		metrics.ObserveFetchAttempt(strategy.String(), outcome.String(), elapsed)

		switch {
		case err == nil:
			return page, attempts, nil
		case errors.Is(err, crawler.ErrRendererUnavailable):
			return crawler.RawPage{}, attempts, err
		case ctx.Err() != nil:
			return crawler.RawPage{}, attempts, fmt.Errorf("%s fetch canceled: %w", strategy, ctx.Err())
		case outcome != crawler.OutcomeNetworkError:
			o.logger.Debug("strategy produced no usable content",
				zap.Stringer("strategy", strategy),
				zap.Stringer("outcome", outcome),
				zap.Error(err),
			)
			return page, attempts, fmt.Errorf("%w: %w", ErrEscalate, err)
		case attempt >= o.cfg.MaxAttempts:
			o.logger.Debug("retries exhausted",
				zap.Stringer("strategy", strategy),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return crawler.RawPage{}, attempts, fmt.Errorf("%w: %d attempts failed: %w", ErrEscalate, attempt, err)
		}

		delay := o.Backoff(attempt)
		o.logger.Debug("retrying after network error",
			zap.Stringer("strategy", strategy),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return crawler.RawPage{}, attempts, fmt.Errorf("%s fetch canceled: %w", strategy, err)
		}
	}
}

// Backoff returns the wait before attempt+1.
func (o *Orchestrator) Backoff(attempt int) time.Duration {
	if strings.EqualFold(o.cfg.Backoff, BackoffFixed) {
		return o.cfg.BaseDelay
	}
	delay := float64(o.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(o.cfg.MaxDelay) {
		delay = float64(o.cfg.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
