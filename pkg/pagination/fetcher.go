package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtm_pages_fetched_total",
	Help: "Total listing pages fetched by resource",
}, []string{"resource"})

var (
	// ErrPageLimitExceeded is returned when a listing does not reach its total within Config.MaxPages.
	ErrPageLimitExceeded = errors.New("page limit exceeded before reaching reported total")

	// ErrShortListing is returned when a page comes back empty while keys are still missing.
	ErrShortListing = errors.New("empty page before reaching reported total")
)

// Page is one slice of a remote collection.
type Page struct {
	// Total is the server-reported size of the whole collection.
	Total int
	// Keys identifies the items on this page.
	Keys []string
}

// PageFetcher fetches a single page. Pages are numbered from 1.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, size int) (Page, error)
}

// PageFunc adapts a function to PageFetcher.
type PageFunc func(ctx context.Context, page, size int) (Page, error)

// FetchPage calls f.
func (f PageFunc) FetchPage(ctx context.Context, page, size int) (Page, error) {
	return f(ctx, page, size)
}

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the number of items requested per page.
	PageSize int
	// MaxPages caps the number of requests for one listing.
	MaxPages int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		MaxPages: 10000,
	}
}

// Fetcher walks paginated listings sequentially.
type Fetcher struct {
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher, filling unset fields from DefaultConfig.
func NewFetcher(config Config) *Fetcher {
	def := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = def.MaxPages
	}

	return &Fetcher{
		config: config,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// FetchAll requests pages until the distinct key count reaches the
// total reported by the most recent page. Keys are returned in first-seen order.
func (f *Fetcher) FetchAll(ctx context.Context, resource string, src PageFetcher) ([]string, error) {
	start := time.Now()
	set := newOrderedSet()

	for page := 1; ; page++ {
		if page > f.config.MaxPages {
			f.logger.Error().
				Str("resource", resource).
				Int("max_pages", f.config.MaxPages).
				Int("accumulated", set.Len()).
				Msg("Listing did not converge")
			return nil, fmt.Errorf("%s: %w (%d pages, %d distinct keys)",
				resource, ErrPageLimitExceeded, f.config.MaxPages, set.Len())
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", resource, err)
		}

		result, err := src.FetchPage(ctx, page, f.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", resource, page, err)
		}
		pagesFetchedTotal.WithLabelValues(resource).Inc()

		set.AddAll(result.Keys)

		f.logger.Info().
			Str("resource", resource).
			Int("page", page).
			Int("total", result.Total).
			Int("accumulated", set.Len()).
			Msg("Fetched page")

		if set.Len() >= result.Total {
			break
		}

		if len(result.Keys) == 0 {
			f.logger.Warn().
				Str("resource", resource).
				Int("page", page).
				Int("total", result.Total).
				Int("accumulated", set.Len()).
				Msg("Empty page below reported total")
			return nil, fmt.Errorf("%s: %w (page %d, %d of %d keys)",
				resource, ErrShortListing, page, set.Len(), result.Total)
		}
	}

	f.logger.Info().
		Str("resource", resource).
		Int("keys", set.Len()).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return set.Slice(), nil
}

// orderedSet is a string set remembering insertion order.
type orderedSet struct {
	index map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) AddAll(keys []string) {
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			continue
		}
		s.index[k] = struct{}{}
		s.order = append(s.order, k)
	}
}

func (s *orderedSet) Len() int { return len(s.order) }

func (s *orderedSet) Slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
