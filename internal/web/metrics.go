package web

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_api_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})

	loadedSets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calcore_recurrence_sets",
		Help: "Recurrence sets in the current snapshot",
	})

	snapshotSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calcore_snapshot_swaps_total",
		Help: "Calendar snapshots installed",
	})
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests to route.
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		apiRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}
