// Package aliascache caches alias visibility records for a short time.
//
// Only two shapes are stored: the collection-only record for an alias path
// (key alias.MakeKey(path, "")) and its per-entity specializations (key
// alias.MakeKey(path, entity)). Writers and invalidators both build keys
// with alias.MakeKey.
package aliascache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"calcore/internal/alias"
)

// Record is a cached visibility answer.
type Record struct {
	Info     *alias.Info `json:"info"`
	Reshared bool        `json:"reshared"`
}

// Cache stores Records by key.
type Cache interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	// Invalidate drops the record for one collection path / entity pair.
	Invalidate(ctx context.Context, collectionPath, entityName string) error
	// InvalidateCollection drops the collection record and every entity
	// record under it.
	InvalidateCollection(ctx context.Context, collectionPath string) error
}

// Memory is a process-local Cache backed by an expirable LRU. Records are
// stored encoded so callers never share mutable trees.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory returns a Memory cache holding up to size records for ttl.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (Record, bool, error) {
	raw, ok := m.lru.Get(key)
	if !ok {
		return Record{}, false, nil
	}
	rec, err := decode(raw)
	if err != nil {
		m.lru.Remove(key)
		return Record{}, false, err
	}
	return rec, true, nil
}

func (m *Memory) Put(_ context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("aliascache: encode %q: %w", key, err)
	}
	m.lru.Add(key, raw)
	return nil
}

func (m *Memory) Invalidate(_ context.Context, collectionPath, entityName string) error {
	m.lru.Remove(alias.MakeKey(collectionPath, entityName))
	return nil
}

func (m *Memory) InvalidateCollection(_ context.Context, collectionPath string) error {
	prefix := alias.MakeKey(collectionPath, "") + "/"
	for _, k := range m.lru.Keys() {
		if k == collectionPath || strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live records.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Redis is a Cache shared between processes.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. prefix namespaces the keys.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "calcore:alias:"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("aliascache: redis get %q: %w", key, err)
	}
	rec, err := decode(raw)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("aliascache: encode %q: %w", key, err)
	}
	if err := r.rdb.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("aliascache: redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, collectionPath, entityName string) error {
	key := alias.MakeKey(collectionPath, entityName)
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("aliascache: redis del %q: %w", key, err)
	}
	return nil
}

func (r *Redis) InvalidateCollection(ctx context.Context, collectionPath string) error {
	keys := []string{r.prefix + alias.MakeKey(collectionPath, "")}

	pattern := r.prefix + escapeGlob(collectionPath) + "/*"
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("aliascache: redis scan %q: %w", collectionPath, err)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("aliascache: redis del %q: %w", collectionPath, err)
	}
	return nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decode(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("aliascache: decode: %w", err)
	}
	if rec.Info == nil {
		return Record{}, errors.New("aliascache: decode: record without info")
	}
	return rec, nil
}
