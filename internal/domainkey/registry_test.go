package domainkey

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InternMergesPartialKeys(t *testing.T) {
	r := NewRegistry()

	byName := r.Intern(MustNew("example.com", "", ""))
	bySID := r.Intern(MustNew("example.com", sidA, ""))
	byNetBIOS := r.Intern(MustNew("EXAMPLE.COM", "", "EXAMPLE"))

	assert.Same(t, byName, bySID)
	assert.Same(t, byName, byNetBIOS)
	assert.Equal(t, sidA, byName.SID())
	assert.Equal(t, "EXAMPLE", byName.NetBIOS())

	for _, id := range []string{sidA, "Example.com", "example"} {
		got, ok := r.Lookup(id)
		require.True(t, ok, id)
		assert.Same(t, byName, got, id)
	}

	stats := r.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Hits)
}

func TestRegistry_DistinctSIDsStayDistinct(t *testing.T) {
	r := NewRegistry()

	a := r.Intern(MustNew("example.com", sidA, ""))
	b := r.Intern(MustNew("example.com", sidB, ""))

	assert.NotSame(t, a, b)
	assert.Len(t, r.Keys(), 2)

	got, ok := r.Lookup(sidB)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()
	r.Intern(MustNew("example.com", "", ""))

	_, ok := r.Lookup("other.com")
	assert.False(t, ok)
	_, ok = r.Lookup("  ")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentIntern(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	results := make([]*DomainKey, 100)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				results[i] = r.Intern(MustNew("example.com", "", ""))
			case 1:
				results[i] = r.Intern(MustNew("example.com", sidA, ""))
			default:
				results[i] = r.Intern(MustNew("example.com", "", "EXAMPLE"))
			}
		}()
	}
	wg.Wait()

	keys := r.Keys()
	require.Len(t, keys, 1)
	for _, k := range results {
		assert.Same(t, keys[0], k)
	}
	assert.True(t, keys[0].IsComplete())
}
