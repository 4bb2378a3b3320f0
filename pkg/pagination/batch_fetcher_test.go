package pagination_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/gh-activity-audit/internal/testutil"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

func TestNewBatchFetcher_Defaults(t *testing.T) {
	// Zero config must still fetch with some concurrency.
	bf := pagination.NewBatchFetcher(pagination.Config{})
	coll := testutil.NewCollection(10, testutil.Daily(testutil.MustDay("2020-01-01"), 35)...)

	pages, err := bf.FetchAllPages(context.Background(), coll)
	if err != nil {
		t.Fatalf("FetchAllPages() failed: %v", err)
	}
	if len(pages) != 4 {
		t.Errorf("got %d pages, want 4", len(pages))
	}
}

func TestFetchAllPages(t *testing.T) {
	coll := testutil.NewCollection(100, testutil.Daily(testutil.MustDay("2019-01-01"), 250)...)
	bf := pagination.NewBatchFetcher(pagination.Config{MaxConcurrency: 3, Timeout: time.Second})

	pages, err := bf.FetchAllPages(context.Background(), coll)
	if err != nil {
		t.Fatalf("FetchAllPages() failed: %v", err)
	}

	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	total := 0
	for n, page := range pages {
		if page.Number != n {
			t.Errorf("page keyed %d has Number %d", n, page.Number)
		}
		total += page.Len()
	}
	if total != 250 {
		t.Errorf("total items = %d, want 250", total)
	}
}

func TestFetchAllPages_SinglePage(t *testing.T) {
	coll := testutil.NewCollection(100, testutil.Daily(testutil.MustDay("2019-01-01"), 7)...)
	bf := pagination.NewBatchFetcher(pagination.DefaultConfig())

	pages, err := bf.FetchAllPages(context.Background(), coll)
	if err != nil {
		t.Fatalf("FetchAllPages() failed: %v", err)
	}
	if len(pages) != 1 || pages[1].Len() != 7 {
		t.Errorf("unexpected pages: %v", pages)
	}
	if got := coll.Requests(); len(got) != 1 {
		t.Errorf("requests = %v, want only page 1", got)
	}
}

func TestFetchAllPages_PageErrorFailsWholeFetch(t *testing.T) {
	boom := errors.New("boom")
	coll := testutil.NewCollection(10, testutil.Daily(testutil.MustDay("2019-01-01"), 60)...)
	coll.Errors = map[int]error{4: boom}
	bf := pagination.NewBatchFetcher(pagination.Config{MaxConcurrency: 2})

	pages, err := bf.FetchAllPages(context.Background(), coll)
	if !errors.Is(err, boom) {
		t.Fatalf("expected page error, got %v", err)
	}
	if pages != nil {
		t.Errorf("expected no partial results, got %d pages", len(pages))
	}
}

func TestFetchAllPages_EmptyCollection(t *testing.T) {
	coll := testutil.NewCollection(100)
	bf := pagination.NewBatchFetcher(pagination.DefaultConfig())

	_, err := bf.FetchAllPages(context.Background(), coll)
	if !errors.Is(err, pagination.ErrEmptyCollection) {
		t.Errorf("expected ErrEmptyCollection, got %v", err)
	}
}

func TestFetchAllPages_MalformedPagination(t *testing.T) {
	coll := testutil.NewCollection(10, testutil.Daily(testutil.MustDay("2019-01-01"), 30)...)
	coll.OmitLast = true
	bf := pagination.NewBatchFetcher(pagination.DefaultConfig())

	_, err := bf.FetchAllPages(context.Background(), coll)
	if !errors.Is(err, pagination.ErrMalformedPagination) {
		t.Errorf("expected ErrMalformedPagination, got %v", err)
	}
}

func TestFetchAllPages_Cancelled(t *testing.T) {
	coll := testutil.NewCollection(10, testutil.Daily(testutil.MustDay("2019-01-01"), 30)...)
	bf := pagination.NewBatchFetcher(pagination.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := bf.FetchAllPages(ctx, coll); err == nil {
		t.Error("expected error for cancelled context")
	}
}

// gatedSource counts concurrent FetchPage calls.
type gatedSource struct {
	*testutil.Collection
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedSource) FetchPage(ctx context.Context, n int) (pagination.Page, error) {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.Collection.FetchPage(ctx, n)
}

func TestFetchAllPages_RespectsConcurrency(t *testing.T) {
	src := &gatedSource{Collection: testutil.NewCollection(10, testutil.Daily(testutil.MustDay("2019-01-01"), 200)...)}
	bf := pagination.NewBatchFetcher(pagination.Config{MaxConcurrency: 3})

	pages, err := bf.FetchAllPages(context.Background(), src)
	if err != nil {
		t.Fatalf("FetchAllPages() failed: %v", err)
	}
	if len(pages) != 20 {
		t.Errorf("got %d pages, want 20", len(pages))
	}
	if peak := src.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}
