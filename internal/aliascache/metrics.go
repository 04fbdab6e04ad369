package aliascache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_alias_lookup_total",
		Help: "Alias visibility lookups by record kind and cache result",
	}, []string{"kind", "result"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_alias_cache_errors_total",
		Help: "Alias cache backend failures by operation",
	}, []string{"op"})
)
