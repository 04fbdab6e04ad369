package aliascache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/alias"
	"calcore/internal/calerr"
)

func record(path, entity string, visible bool) Record {
	info := alias.NewInfo(alias.Collection{Path: path, OwnerHref: "/principals/alice"}, entity, visible)
	return Record{Info: info}
}

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "/alice/work")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "/alice/work", record("/alice/work", "", true)))
	require.NoError(t, c.Put(ctx, "/alice/work/a.ics", record("/alice/work", "a.ics", true)))
	require.NoError(t, c.Put(ctx, "/alice/work/b.ics", record("/alice/work", "b.ics", false)))
	require.NoError(t, c.Put(ctx, "/alice/workshop", record("/alice/workshop", "", true)))

	got, ok, err := c.Get(ctx, "/alice/work/b.ics")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Info.Visible)
	assert.Equal(t, "b.ics", got.Info.EntityName)

	require.NoError(t, c.Invalidate(ctx, "/alice/work", "a.ics"))
	_, ok, _ = c.Get(ctx, "/alice/work/a.ics")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "/alice/work/b.ics")
	assert.True(t, ok)

	require.NoError(t, c.InvalidateCollection(ctx, "/alice/work"))
	_, ok, _ = c.Get(ctx, "/alice/work")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "/alice/work/b.ics")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "/alice/workshop")
	assert.True(t, ok, "sibling path with a shared prefix survives")
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemory(16, time.Minute))
}

func TestMemoryCacheCopiesRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4, time.Minute)

	rec := record("/alice/work", "", true)
	require.NoError(t, m.Put(ctx, "/alice/work", rec))
	rec.Info.Visible = false

	got, ok, err := m.Get(ctx, "/alice/work")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Info.Visible)
	assert.Equal(t, 1, m.Len())
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "test:", time.Minute), mr
}

func TestRedisCache(t *testing.T) {
	c, _ := newRedis(t)
	exerciseCache(t, c)
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/alice/work", record("/alice/work", "", true)))
	assert.True(t, mr.Exists("test:/alice/work"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "/alice/work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheRejectsGarbage(t *testing.T) {
	c, mr := newRedis(t)
	require.NoError(t, mr.Set("test:/alice/work", "{}"))

	_, ok, err := c.Get(context.Background(), "/alice/work")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `/a\*b\?c\[d\]`, escapeGlob("/a*b?c[d]"))
}

// countingDirectory counts collection lookups so cache hits are observable.
type countingDirectory struct {
	*alias.MapDirectory
	lookups int
}

func (d *countingDirectory) Collection(path string) (alias.Collection, bool) {
	d.lookups++
	return d.MapDirectory.Collection(path)
}

func TestLookupCachesCollectionRecord(t *testing.T) {
	dir := &countingDirectory{MapDirectory: alias.NewMapDirectory(
		alias.Collection{Path: "/alice/work", OwnerHref: "/principals/alice"},
		alias.Collection{Path: "/bob/alice-work", OwnerHref: "/principals/bob", AliasOf: "/alice/work"},
	)}
	graph := alias.NewGraph(dir, func(col alias.Collection, entity string) bool {
		return entity != "private.ics"
	})
	cache := NewMemory(16, time.Minute)
	lookup := NewLookup(graph, cache)
	ctx := context.Background()

	rec, err := lookup.Visible(ctx, "/bob/alice-work", "")
	require.NoError(t, err)
	assert.True(t, rec.Info.Visible)
	first := dir.lookups

	rec, err = lookup.Visible(ctx, "/bob/alice-work", "")
	require.NoError(t, err)
	assert.True(t, rec.Info.Visible)
	assert.Equal(t, first, dir.lookups, "second query served from cache")

	rec, err = lookup.Visible(ctx, "/bob/alice-work", "private.ics")
	require.NoError(t, err)
	assert.False(t, rec.Info.Visible)
	assert.Equal(t, "/bob/alice-work/private.ics", rec.Info.Key())

	rec, err = lookup.Visible(ctx, "/bob/alice-work", "standup.ics")
	require.NoError(t, err)
	assert.True(t, rec.Info.Visible)
	assert.Equal(t, 3, cache.Len())

	require.NoError(t, lookup.Invalidate(ctx, "/bob/alice-work"))
	assert.Equal(t, 0, cache.Len())
}

func TestLookupReportsCycle(t *testing.T) {
	graph := alias.NewGraph(alias.NewMapDirectory(
		alias.Collection{Path: "/a", AliasOf: "/b"},
		alias.Collection{Path: "/b", AliasOf: "/a"},
	), nil)
	lookup := NewLookup(graph, NewMemory(4, time.Minute))

	_, err := lookup.Visible(context.Background(), "/a", "ev.ics")
	assert.ErrorIs(t, err, calerr.ErrAliasCycle)
}

func TestLookupCountsHitsAndMisses(t *testing.T) {
	graph := alias.NewGraph(alias.NewMapDirectory(
		alias.Collection{Path: "/metrics/cal", OwnerHref: "/principals/m"},
	), nil)
	lookup := NewLookup(graph, NewMemory(4, time.Minute))
	ctx := context.Background()

	hits := lookupResults.WithLabelValues("collection", "hit")
	misses := lookupResults.WithLabelValues("collection", "miss")
	h0, m0 := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	_, err := lookup.Visible(ctx, "/metrics/cal", "")
	require.NoError(t, err)
	_, err = lookup.Visible(ctx, "/metrics/cal", "")
	require.NoError(t, err)

	assert.Equal(t, m0+1, testutil.ToFloat64(misses))
	assert.Equal(t, h0+1, testutil.ToFloat64(hits))
}
