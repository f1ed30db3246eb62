package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collection serves a fixed list of keys page by page and counts requests.
type collection struct {
	keys     []string
	requests int
}

func newCollection(n int) *collection {
	c := &collection{}
	for i := 0; i < n; i++ {
		c.keys = append(c.keys, fmt.Sprintf("u%03d", i))
	}
	return c
}

func (c *collection) FetchPage(_ context.Context, page, size int) (Page, error) {
	c.requests++
	lo := (page - 1) * size
	if lo > len(c.keys) {
		lo = len(c.keys)
	}
	hi := lo + size
	if hi > len(c.keys) {
		hi = len(c.keys)
	}
	return Page{Total: len(c.keys), Keys: c.keys[lo:hi]}, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func TestFetchAll_RequestBound(t *testing.T) {
	tests := []struct {
		total int
		size  int
	}{
		{total: 0, size: 100},
		{total: 1, size: 100},
		{total: 100, size: 100},
		{total: 150, size: 100},
		{total: 250, size: 7},
		{total: 999, size: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d/size=%d", tt.total, tt.size), func(t *testing.T) {
			c := newCollection(tt.total)
			f := NewFetcher(Config{PageSize: tt.size})

			got, err := f.FetchAll(context.Background(), "test", c)
			require.NoError(t, err)

			assert.Equal(t, append([]string{}, c.keys...), got)
			assert.LessOrEqual(t, c.requests, max(1, ceilDiv(tt.total, tt.size)))
		})
	}
}

func TestFetchAll_SameSetAcrossPageSizes(t *testing.T) {
	c := newCollection(137)

	var first []string
	for _, size := range []int{1, 10, 50, 100, 137, 500} {
		got, err := NewFetcher(Config{PageSize: size}).FetchAll(context.Background(), "test", c)
		require.NoError(t, err)
		if first == nil {
			first = got
			continue
		}
		assert.ElementsMatch(t, first, got, "page size %d", size)
	}
}

func TestFetchAll_DeduplicatesAcrossPages(t *testing.T) {
	pages := [][]string{
		{"a", "b", "c"},
		{"c", "d", "a"},
		{"e"},
	}
	src := PageFunc(func(_ context.Context, page, _ int) (Page, error) {
		return Page{Total: 5, Keys: pages[page-1]}, nil
	})

	got, err := NewFetcher(Config{PageSize: 3}).FetchAll(context.Background(), "test", src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestFetchAll_PageLimitExceeded(t *testing.T) {
	calls := 0
	src := PageFunc(func(_ context.Context, page, _ int) (Page, error) {
		calls++
		// the same key over and over never reaches the total
		return Page{Total: 10, Keys: []string{"dup"}}, nil
	})

	_, err := NewFetcher(Config{PageSize: 1, MaxPages: 5}).FetchAll(context.Background(), "test", src)
	require.ErrorIs(t, err, ErrPageLimitExceeded)
	assert.Equal(t, 5, calls)
}

func TestFetchAll_ShortListing(t *testing.T) {
	src := PageFunc(func(_ context.Context, page, _ int) (Page, error) {
		if page == 1 {
			return Page{Total: 4, Keys: []string{"a", "b"}}, nil
		}
		return Page{Total: 4}, nil
	})

	_, err := NewFetcher(Config{PageSize: 2}).FetchAll(context.Background(), "test", src)
	require.ErrorIs(t, err, ErrShortListing)
}

func TestFetchAll_TotalShrinks(t *testing.T) {
	src := PageFunc(func(_ context.Context, page, _ int) (Page, error) {
		if page == 1 {
			return Page{Total: 4, Keys: []string{"a", "b"}}, nil
		}
		return Page{Total: 3, Keys: []string{"c"}}, nil
	})

	got, err := NewFetcher(Config{PageSize: 2}).FetchAll(context.Background(), "test", src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFetchAll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	src := PageFunc(func(_ context.Context, page, _ int) (Page, error) {
		if page == 2 {
			return Page{}, boom
		}
		return Page{Total: 4, Keys: []string{"a", "b"}}, nil
	})

	_, err := NewFetcher(Config{PageSize: 2}).FetchAll(context.Background(), "users", src)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetch users page 2")
}

func TestFetchAll_SequentialPageOrder(t *testing.T) {
	var seen []int
	src := PageFunc(func(_ context.Context, page, size int) (Page, error) {
		seen = append(seen, page)
		assert.Equal(t, 2, size)
		return Page{Total: 6, Keys: []string{fmt.Sprint(page, "a"), fmt.Sprint(page, "b")}}, nil
	})

	_, err := NewFetcher(Config{PageSize: 2}).FetchAll(context.Background(), "test", src)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestFetchAll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(DefaultConfig()).FetchAll(ctx, "test", newCollection(10))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(Config{})
	assert.Equal(t, DefaultConfig(), f.Config())
}
