// Package deletion runs bulk user deletions through a rate limiter and
// reports the outcome of every single call.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/mtm-prune/pkg/client"
	"github.com/Sternrassler/mtm-prune/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

var deletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtm_deletions_total",
	Help: "Total user deletions by outcome",
}, []string{"outcome"})

// DeleteFunc deletes one identifier.
type DeleteFunc func(ctx context.Context, id string) error

// Result is the outcome of deleting one identifier.
type Result struct {
	ID       string
	Err      error
	Duration time.Duration
}

// Deleter issues one delete per identifier under a shared limiter.
type Deleter struct {
	del     DeleteFunc
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// NewDeleter creates a deleter.
func NewDeleter(del DeleteFunc, limiter *ratelimit.Limiter, logger zerolog.Logger) *Deleter {
	return &Deleter{
		del:     del,
		limiter: limiter,
		logger:  logger.With().Str("component", "deletion").Logger(),
	}
}

// DeleteAll deletes every distinct identifier once and waits for all calls
// to settle, whatever their outcome. A cancelled ctx stops further
// dispatches; the identifiers not yet dispatched are reported as failed
// with the context error.
func (d *Deleter) DeleteAll(ctx context.Context, runID string, ids []string) *Report {
	ids = unique(ids)
	report := &Report{
		RunID:     runID,
		Requested: len(ids),
		StartedAt: time.Now().UTC(),
	}

	d.logger.Info().
		Str("run_id", runID).
		Int("requested", len(ids)).
		Int("max_concurrency", d.limiter.Config().MaxConcurrency).
		Dur("min_spacing", d.limiter.Config().MinSpacing).
		Msg("Starting bulk deletion")

	p := pool.NewWithResults[Result]().WithMaxGoroutines(d.limiter.Config().MaxConcurrency)
	for _, id := range ids {
		p.Go(func() Result {
			return d.deleteOne(ctx, runID, id)
		})
	}
	results := p.Wait()

	report.add(ids, results)
	report.FinishedAt = time.Now().UTC()

	d.logger.Info().
		Str("run_id", runID).
		Int("deleted", len(report.Deleted)).
		Int("failed", len(report.Failed)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Bulk deletion complete")

	return report
}

func (d *Deleter) deleteOne(ctx context.Context, runID, id string) Result {
	start := time.Now()

	err := d.limiter.Do(ctx, func(ctx context.Context) error {
		d.logger.Debug().Str("run_id", runID).Str("user_id", id).Msg("Deleting user")
		return d.del(ctx, id)
	})

	res := Result{ID: id, Err: err, Duration: time.Since(start)}
	if err != nil {
		deletionsTotal.WithLabelValues("failed").Inc()
		d.logger.Warn().
			Err(err).
			Str("run_id", runID).
			Str("user_id", id).
			Int("status", client.StatusCode(err)).
			Msg("User deletion failed")
		return res
	}

	deletionsTotal.WithLabelValues("deleted").Inc()
	d.logger.Debug().
		Str("run_id", runID).
		Str("user_id", id).
		Dur("duration", res.Duration).
		Msg("Deleted user")
	return res
}

// Report aggregates the outcome of a bulk deletion.
type Report struct {
	RunID      string    `json:"run_id"`
	Requested  int       `json:"requested"`
	Deleted    []string  `json:"deleted"`
	Failed     []Failure `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	errs []error
}

// Failure describes one failed deletion.
type Failure struct {
	ID         string `json:"id"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// add records results in the order of ids.
func (r *Report) add(ids []string, results []Result) {
	byID := make(map[string]Result, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}

	r.Deleted = make([]string, 0, len(ids))
	r.Failed = make([]Failure, 0)
	for _, id := range ids {
		res := byID[id]
		if res.Err == nil {
			r.Deleted = append(r.Deleted, id)
			continue
		}
		r.Failed = append(r.Failed, Failure{
			ID:         id,
			StatusCode: client.StatusCode(res.Err),
			Error:      res.Err.Error(),
		})
		r.errs = append(r.errs, fmt.Errorf("delete user %s: %w", id, res.Err))
	}
}

// Err joins all deletion failures, or returns nil if every deletion succeeded.
func (r *Report) Err() error {
	return errors.Join(r.errs...)
}

// Succeeded reports whether every requested deletion succeeded.
func (r *Report) Succeeded() bool {
	return len(r.Failed) == 0
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
