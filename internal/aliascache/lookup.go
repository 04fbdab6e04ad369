package aliascache

import (
	"context"

	"calcore/internal/alias"
	appLog "calcore/internal/log"
)

// Lookup answers visibility queries through a Cache. Cache failures are
// logged and the answer is recomputed; graph failures (AliasCycle, missing
// collections) are returned and must be treated as not visible.
type Lookup struct {
	graph *alias.Graph
	cache Cache
}

func NewLookup(graph *alias.Graph, cache Cache) *Lookup {
	return &Lookup{graph: graph, cache: cache}
}

// Graph returns the uncached graph.
func (l *Lookup) Graph() *alias.Graph { return l.graph }

// Visible resolves entityName seen through the alias at path. An empty
// entityName asks about the collection itself.
func (l *Lookup) Visible(ctx context.Context, path, entityName string) (Record, error) {
	if entityName != "" {
		if rec, ok := l.get(ctx, alias.MakeKey(path, entityName)); ok {
			lookupResults.WithLabelValues("entity", "hit").Inc()
			return rec, nil
		}
		lookupResults.WithLabelValues("entity", "miss").Inc()
	}

	colKey := alias.MakeKey(path, "")
	colRec, ok := l.get(ctx, colKey)
	if ok {
		lookupResults.WithLabelValues("collection", "hit").Inc()
	} else {
		lookupResults.WithLabelValues("collection", "miss").Inc()
		res, err := l.graph.Visible(path, "")
		if err != nil {
			appLog.Error("alias visibility failed", err, "path", path)
			return Record{}, err
		}
		colRec = Record{Info: res.Info, Reshared: res.Reshared}
		l.put(ctx, colKey, colRec)
	}
	if entityName == "" {
		return colRec, nil
	}

	allowed, err := l.graph.Allows(path, entityName)
	if err != nil {
		appLog.Error("alias entity visibility failed", err, "path", path, "entity", entityName)
		return Record{}, err
	}
	info := colRec.Info
	leaf := info.CopyForEntity(entityName, info.Visible && allowed)
	rec := Record{Info: leaf, Reshared: colRec.Reshared}
	l.put(ctx, leaf.Key(), rec)
	return rec, nil
}

// Invalidate drops the cached records of path (collection and entities).
func (l *Lookup) Invalidate(ctx context.Context, path string) error {
	return l.cache.InvalidateCollection(ctx, path)
}

func (l *Lookup) get(ctx context.Context, key string) (Record, bool) {
	rec, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		appLog.Warn("alias cache get failed", "key", key, "err", err)
		return Record{}, false
	}
	return rec, ok
}

func (l *Lookup) put(ctx context.Context, key string, rec Record) {
	if err := l.cache.Put(ctx, key, rec); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		appLog.Warn("alias cache put failed", "key", key, "err", err)
	}
}
