package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colreduce/columnar"
)

func dictionaryOfRows(t *testing.T, rows int) *columnar.DictionaryColumn {
	t.Helper()
	values := make([]int32, rows)
	for i := range values {
		values[i] = int32(i % 100)
	}
	d, err := columnar.Encode(columnar.FromSlice(values))
	require.NoError(t, err)
	return d
}

func TestColumnCache(t *testing.T) {
	a := ColumnIdentifier{Table: "t", Column: "a"}
	b := ColumnIdentifier{Table: "t", Column: "b"}

	t.Run("HitsAndMisses", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1})
		require.NoError(t, err)

		_, ok := cache.Get(a)
		assert.False(t, ok)

		d := dictionaryOfRows(t, 1000)
		cache.Put(a, d)
		got, ok := cache.Get(a)
		require.True(t, ok)
		assert.Same(t, d, got)

		stats := cache.Stats()
		assert.EqualValues(t, 1, stats.Hits)
		assert.EqualValues(t, 1, stats.Misses)
		assert.Equal(t, 1, stats.Entries)
		assert.Equal(t, d.MemorySize(), stats.CurrentSize)

		cache.Invalidate(a)
		_, ok = cache.Get(a)
		assert.False(t, ok)
		assert.Zero(t, cache.Stats().CurrentSize)
		assert.Zero(t, cache.Stats().Evictions)
	})

	t.Run("Eviction", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1})
		require.NoError(t, err)

		// ~600KB each, two do not fit
		cache.Put(a, dictionaryOfRows(t, 150_000))
		cache.Put(b, dictionaryOfRows(t, 150_000))

		_, ok := cache.Get(a)
		assert.False(t, ok)
		_, ok = cache.Get(b)
		assert.True(t, ok)

		stats := cache.Stats()
		assert.EqualValues(t, 1, stats.Evictions)
		assert.Equal(t, 1, stats.Entries)
		assert.LessOrEqual(t, stats.CurrentSize, int64(1<<20))
	})

	t.Run("EntryLimit", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1, MaxEntries: 2})
		require.NoError(t, err)
		c := ColumnIdentifier{Table: "t", Column: "c"}

		cache.Put(a, dictionaryOfRows(t, 10))
		cache.Put(b, dictionaryOfRows(t, 10))
		cache.Put(a, dictionaryOfRows(t, 20))
		assert.Zero(t, cache.Stats().Evictions)

		cache.Put(c, dictionaryOfRows(t, 10))
		_, ok := cache.Get(b)
		assert.False(t, ok)

		stats := cache.Stats()
		assert.EqualValues(t, 1, stats.Evictions)
		assert.Equal(t, 2, stats.Entries)

		cache.Invalidate(a)
		cache.Clear()
		stats = cache.Stats()
		assert.EqualValues(t, 1, stats.Evictions)
		assert.Zero(t, stats.Entries)
		assert.Zero(t, stats.CurrentSize)
	})

	t.Run("Generation", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1})
		require.NoError(t, err)
		d := dictionaryOfRows(t, 10)

		gen := cache.Generation(a)
		assert.True(t, cache.PutIfCurrent(a, d, gen))

		gen = cache.Generation(a)
		cache.Invalidate(a)
		assert.False(t, cache.PutIfCurrent(a, d, gen))
		_, ok := cache.Get(a)
		assert.False(t, ok)

		// other identifiers are unaffected
		assert.True(t, cache.PutIfCurrent(b, d, cache.Generation(b)))

		gen = cache.Generation(b)
		cache.Clear()
		assert.False(t, cache.PutIfCurrent(b, d, gen))
		assert.Zero(t, cache.Stats().Entries)
	})

	t.Run("TooLarge", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1})
		require.NoError(t, err)
		cache.Put(a, dictionaryOfRows(t, 300_000))
		assert.Zero(t, cache.Stats().Entries)
	})

	t.Run("Expiry", func(t *testing.T) {
		cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 1, TTL: time.Millisecond})
		require.NoError(t, err)
		cache.Put(a, dictionaryOfRows(t, 10))
		time.Sleep(5 * time.Millisecond)
		_, ok := cache.Get(a)
		assert.False(t, ok)
		assert.Zero(t, cache.Stats().Entries)
	})

	t.Run("InvalidBudget", func(t *testing.T) {
		_, err := NewColumnCache(CacheConfig{})
		assert.Error(t, err)
		_, err = NewColumnCache(CacheConfig{MaxMemoryMB: 1, MaxEntries: -1})
		assert.Error(t, err)
	})
}

func TestCatalogCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 8})
	require.NoError(t, err)

	cat, err := New(NewMemoryStore(), WithCache(cache))
	require.NoError(t, err)
	defer cat.Close()

	_, err = cat.Register(ctx, "t", "x", columnar.FromSlice([]int64{3, 1, 2}))
	require.NoError(t, err)

	first, err := cat.Get(ctx, "t", "x")
	require.NoError(t, err)
	second, err := cat.Get(ctx, "t", "x")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = cat.Register(ctx, "t", "x", columnar.FromSlice([]int64{5}))
	require.NoError(t, err)
	third, err := cat.Get(ctx, "t", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, third.Len())

	require.NoError(t, cat.Drop(ctx, "t", "x"))
	_, err = cat.Get(ctx, "t", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, ok := cat.CacheStats()
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Hits)
	assert.Zero(t, stats.Entries)
}

// pausingStore holds one Get after it has read from the wrapped store until
// resume is closed.
type pausingStore struct {
	Store
	pause  atomic.Bool
	read   chan struct{}
	resume chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, []byte, error) {
	meta, data, err := s.Store.Get(ctx, id)
	if s.pause.CompareAndSwap(true, false) {
		s.read <- struct{}{}
		<-s.resume
	}
	return meta, data, err
}

func TestCatalogCacheReplaceDuringGet(t *testing.T) {
	ctx := context.Background()
	cache, err := NewColumnCache(CacheConfig{MaxMemoryMB: 8})
	require.NoError(t, err)

	store := &pausingStore{
		Store:  NewMemoryStore(),
		read:   make(chan struct{}),
		resume: make(chan struct{}),
	}
	cat, err := New(store, WithCache(cache))
	require.NoError(t, err)
	defer cat.Close()

	_, err = cat.Register(ctx, "t", "x", columnar.FromSlice([]int64{1, 2}))
	require.NoError(t, err)

	store.pause.Store(true)
	loaded := make(chan *columnar.DictionaryColumn, 1)
	go func() {
		d, err := cat.Get(ctx, "t", "x")
		assert.NoError(t, err)
		loaded <- d
	}()

	<-store.read
	_, err = cat.Register(ctx, "t", "x", columnar.FromSlice([]int64{1, 2, 3}))
	require.NoError(t, err)
	close(store.resume)

	old := <-loaded
	require.NotNil(t, old)
	assert.Equal(t, 2, old.Len())

	current, err := cat.Get(ctx, "t", "x")
	require.NoError(t, err)
	assert.Equal(t, 3, current.Len())
}
