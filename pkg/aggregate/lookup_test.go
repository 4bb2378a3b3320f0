package aggregate

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Count(t *testing.T) {
	lookup := NewLookup(MetricCommits, StaticLoader(Totals{
		"Octo/Hello": {Issues: 3, Commits: 22},
		"octo/world": {Issues: 4},
	}))

	n, err := lookup.Count("octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 22, n)

	n, err = lookup.Count("OCTO", "World")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = lookup.Count("octo", "absent")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unknown repositories count as zero")

	size, err := lookup.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, size)
	assert.Equal(t, MetricCommits, lookup.Metric())
}

func TestLookup_PopulatesOnce(t *testing.T) {
	var loads atomic.Int32
	lookup := NewLookup(MetricIssues, func() (Totals, error) {
		loads.Add(1)
		return Totals{"octo/hello": {Issues: 7}}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := lookup.Count("octo", "hello")
			assert.NoError(t, err)
			assert.Equal(t, 7, n)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestLookup_ErrorIsMemoized(t *testing.T) {
	errLoad := errors.New("totals unavailable")
	var loads atomic.Int32
	lookup := NewLookup(MetricCommits, func() (Totals, error) {
		loads.Add(1)
		return nil, errLoad
	})

	for i := 0; i < 3; i++ {
		_, err := lookup.Count("octo", "hello")
		assert.ErrorIs(t, err, errLoad)
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestLookup_CaseCollisionDeterministic(t *testing.T) {
	totals := Totals{
		"octo/hello": {Commits: 1},
		"Octo/Hello": {Commits: 2},
	}
	for i := 0; i < 10; i++ {
		n, err := NewLookup(MetricCommits, StaticLoader(totals)).Count("octo", "hello")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "lowercase spelling sorts last")
	}
}

func TestFileLoader(t *testing.T) {
	path := t.TempDir() + "/" + "repototals-2017-05-10.csv"
	require.NoError(t, WriteTotalsFile(path, Totals{"octo/hello": {PullRequests: 5}}))

	n, err := NewLookup(MetricPullRequests, FileLoader(path)).Count("octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "octo/hello", Key("Octo", "HELLO"))
}
