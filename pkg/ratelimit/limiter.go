// Package ratelimit bounds how MTM operations are dispatched: at most
// MaxConcurrency in flight, and successive dispatch starts at least
// MinSpacing apart.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for dispatch limiting.
var (
	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mtm_limiter_wait_seconds",
		Help:    "Time spent waiting for a dispatch slot",
		Buckets: []float64{0.001, 0.01, 0.033, 0.1, 0.5, 1, 5, 30},
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtm_in_flight",
		Help: "Operations currently holding a dispatch slot",
	})
)

// Config holds limiter configuration.
type Config struct {
	// MaxConcurrency is the maximum number of operations in flight.
	MaxConcurrency int

	// MinSpacing is the minimum time between two dispatch starts. Zero disables spacing.
	MinSpacing time.Duration
}

// DefaultConfig returns the limits used for bulk deletion.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		MinSpacing:     33 * time.Millisecond,
	}
}

// Validate reports invalid limits.
func (c Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1 (got %d)", c.MaxConcurrency)
	}
	if c.MinSpacing < 0 {
		return fmt.Errorf("min_spacing must be >= 0 (got %s)", c.MinSpacing)
	}
	return nil
}

// Limiter gates dispatches. It is safe for concurrent use; construct one per
// workload and share it between the goroutines that dispatch.
type Limiter struct {
	config  Config
	slots   *semaphore.Weighted
	spacing *rate.Limiter
	logger  zerolog.Logger

	// mu guards lastDispatch, the wall time of the latest granted dispatch.
	mu           sync.Mutex
	lastDispatch time.Time
}

// NewLimiter creates a limiter.
func NewLimiter(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}

	return &Limiter{
		config:  cfg,
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		spacing: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "ratelimit").Logger(),
	}, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Acquire blocks until a concurrency slot is free and the spacing interval
// since the previous dispatch has elapsed. The returned release func must be
// called exactly once when the operation finishes.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire slot: %w", err)
	}
	if err := l.waitSpacing(ctx); err != nil {
		l.slots.Release(1)
		return nil, fmt.Errorf("wait for dispatch spacing: %w", err)
	}

	waited := time.Since(start)
	limiterWaitSeconds.Observe(waited.Seconds())
	inFlight.Inc()

	l.logger.Debug().Dur("waited", waited).Msg("Dispatch slot acquired")

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		inFlight.Dec()
		l.slots.Release(1)
	}, nil
}

// waitSpacing paces dispatches through the token bucket, then holds each
// dispatch until MinSpacing has passed since the previous one actually
// started. The bucket only spaces reservation times.
func (l *Limiter) waitSpacing(ctx context.Context) error {
	if err := l.spacing.Wait(ctx); err != nil {
		return err
	}
	if l.config.MinSpacing <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastDispatch.IsZero() {
		if wait := time.Until(l.lastDispatch.Add(l.config.MinSpacing)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	l.lastDispatch = time.Now()
	return nil
}

// Do runs fn under the limiter.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}
