// Package metrics exposes the Prometheus registry used by mtm-prune.
// Metrics are defined next to the code that records them (client,
// pagination, ratelimit, deletion) and registered through promauto.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by all packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - mtm_requests_total{endpoint, status} (Counter): requests by endpoint and HTTP status
//   - mtm_request_duration_seconds{endpoint} (Histogram): request duration by endpoint
//   - mtm_errors_total{class} (Counter): errors by class (client, server, rate_limit, network, decode)
//
// Pagination Metrics (pkg/pagination):
//   - mtm_pages_fetched_total{resource} (Counter): pages fetched per listing
//
// Limiter Metrics (pkg/ratelimit):
//   - mtm_limiter_wait_seconds (Histogram): time spent waiting for a dispatch slot
//   - mtm_in_flight (Gauge): operations currently holding a slot
//
// Deletion Metrics (pkg/deletion):
//   - mtm_deletions_total{outcome} (Counter): deletions by outcome (deleted, failed)
//
// Example Prometheus Queries:
//
//   # Deletion failure ratio
//   sum(rate(mtm_deletions_total{outcome="failed"}[5m])) / sum(rate(mtm_deletions_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(mtm_request_duration_seconds_bucket[5m]))
