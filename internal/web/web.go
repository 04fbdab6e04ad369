package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calcore/internal/alias"
	"calcore/internal/aliascache"
	"calcore/internal/calerr"
	"calcore/internal/config"
	"calcore/internal/ics"
	appLog "calcore/internal/log"
	"calcore/internal/override"
	"calcore/internal/recurrence"
	"calcore/internal/temporal"
)

// Snapshot is one loaded generation of calendars. It is never mutated after
// it is handed to Swap.
type Snapshot struct {
	Calendars []*ics.Calendar
	LoadedAt  time.Time
}

func (s *Snapshot) find(uid string) (*ics.Calendar, *recurrence.Set, bool) {
	if s == nil {
		return nil, nil, false
	}
	for _, cal := range s.Calendars {
		if set, ok := cal.Set(uid); ok {
			return cal, set, true
		}
	}
	return nil, nil, false
}

// Server provides the JSON API over the current snapshot.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	lookup *aliascache.Lookup
	graph  *alias.Graph
	zones  temporal.Zones
	now    func() time.Time

	mu   sync.RWMutex
	snap *Snapshot

	// Expanded /api/instances responses for the current snapshot, keyed by
	// query. Purged on Swap.
	instancesCache *expirable.LRU[string, instancesResponse]
}

const (
	instancesCacheTTL  = 30 * time.Second
	instancesCacheSize = 128

	// maxQueryDays bounds days and backfill on /api/instances.
	maxQueryDays = 366
)

// NewServer constructs a Server. lookup may be nil when no collections are
// configured; /api/visibility then answers 404.
func NewServer(cfg *config.Config, lookup *aliascache.Lookup, zones temporal.Zones) *Server {
	if zones == nil {
		zones = temporal.DefaultZones()
	}
	s := &Server{
		cfg:            cfg,
		mux:            http.NewServeMux(),
		lookup:         lookup,
		zones:          zones,
		now:            time.Now,
		instancesCache: expirable.NewLRU[string, instancesResponse](instancesCacheSize, nil, instancesCacheTTL),
	}
	if lookup != nil {
		s.graph = lookup.Graph()
	}
	s.registerRoutes()
	return s
}

// Swap installs a new snapshot.
func (s *Server) Swap(snap *Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	sets := 0
	if snap != nil {
		for _, cal := range snap.Calendars {
			sets += len(cal.Sets)
		}
	}
	loadedSets.Set(float64(sets))
	snapshotSwaps.Inc()

	s.instancesCache.Purge()
}

func (s *Server) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Handler returns the root handler, with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calcore", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/instances", instrument("instances", s.handleInstances))
	s.mux.HandleFunc("/api/resolve", instrument("resolve", s.handleResolve))
	s.mux.HandleFunc("/api/visibility", instrument("visibility", s.handleVisibility))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type instanceDTO struct {
	Calendar     string         `json:"calendar"`
	UID          string         `json:"uid"`
	Key          string         `json:"key"`
	RecurrenceID temporal.Value `json:"recurrence_id"`
	Start        temporal.Value `json:"start"`
	End          temporal.Value `json:"end"`
	Summary      string         `json:"summary"`
	Description  string         `json:"description"`
	Location     string         `json:"location"`
	AllDay       bool           `json:"all_day"`
	Overridden   bool           `json:"overridden"`
}

type instancesResponse struct {
	Instances     []instanceDTO `json:"instances"`
	TruncatedUIDs []string      `json:"truncated_uids,omitempty"`
	FailedUIDs    []string      `json:"failed_uids,omitempty"`
	RangeStart    time.Time     `json:"range_start"`
	RangeEnd      time.Time     `json:"range_end"`
	TimeZone      string        `json:"timezone"`
}

// handleInstances expands the loaded calendars over a window around now.
//
// GET /api/instances?uid=&days=7&backfill=1
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	uid := q.Get("uid")
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	days = min(days, maxQueryDays)
	backfill := parseIntDefault(q.Get("backfill"), 1)
	backfill = min(max(backfill, 0), maxQueryDays)

	cacheKey := uid + "|" + strconv.Itoa(days) + "|" + strconv.Itoa(backfill)
	if resp, ok := s.instancesCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	snap := s.snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "calendars not loaded yet")
		return
	}

	loc := s.resolveLocation(s.cfg.Timezone)
	now := s.now().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	resp := instancesResponse{
		Instances:  []instanceDTO{},
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		TimeZone:   loc.String(),
	}
	cfg := recurrence.Config{
		RangeStart:     rangeStart,
		RangeEnd:       rangeEnd,
		MaxOccurrences: s.cfg.MaxOccurrences,
	}

	found := false
	for _, cal := range snap.Calendars {
		for _, set := range cal.Sets {
			if uid != "" && set.Master().UID() != uid {
				continue
			}
			found = true
			res, err := set.Expand(cfg)
			if err != nil {
				appLog.Error("api instances: expand failed", err, "calendar", cal.Source.ID, "uid", set.Master().UID())
				resp.FailedUIDs = append(resp.FailedUIDs, set.Master().UID())
				continue
			}
			if res.Truncated {
				resp.TruncatedUIDs = append(resp.TruncatedUIDs, set.Master().UID())
			}
			for _, inst := range res.Instances {
				dto, err := toInstanceDTO(cal.Source.ID, inst)
				if err != nil {
					appLog.Error("api instances: resolve failed", err, "key", inst.Key())
					continue
				}
				resp.Instances = append(resp.Instances, dto)
			}
		}
	}
	if uid != "" && !found {
		writeError(w, http.StatusNotFound, "unknown uid")
		return
	}

	sort.SliceStable(resp.Instances, func(i, j int) bool {
		return temporal.Compare(resp.Instances[i].Start, resp.Instances[j].Start) < 0
	})

	appLog.Debug("api instances", "uid", uid, "days", days, "backfill", backfill, "count", len(resp.Instances))

	s.instancesCache.Add(cacheKey, resp)

	writeJSON(w, http.StatusOK, resp)
}

func toInstanceDTO(calendarID string, inst recurrence.Instance) (instanceDTO, error) {
	dto := instanceDTO{
		Calendar:     calendarID,
		UID:          inst.UID,
		Key:          inst.Key(),
		RecurrenceID: inst.RecurrenceID,
		Start:        inst.Start,
		End:          inst.End,
		AllDay:       inst.Start.DateOnly(),
		Overridden:   inst.Override != nil,
	}
	var err error
	if dto.Summary, err = inst.Text(override.Summary); err != nil {
		return dto, err
	}
	if dto.Description, err = inst.Text(override.Description); err != nil {
		return dto, err
	}
	if dto.Location, err = inst.Text(override.Location); err != nil {
		return dto, err
	}
	return dto, nil
}

type resolveResponse struct {
	UID          string `json:"uid"`
	RecurrenceID string `json:"recurrence_id,omitempty"`
	Field        string `json:"field"`
	State        string `json:"state"`
	Value        any    `json:"value"`
}

// handleResolve returns one field of a master or of one instance.
//
// GET /api/resolve?uid=&rid=&field=
//   - rid: UTC projection of the recurrence id, e.g. 20240311T080000Z
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid, rid := q.Get("uid"), q.Get("rid")
	if uid == "" || q.Get("field") == "" {
		writeError(w, http.StatusBadRequest, "uid and field are required")
		return
	}
	f, err := override.ParseField(q.Get("field"))
	if err != nil {
		writeCoreError(w, err)
		return
	}

	_, set, ok := s.snapshot().find(uid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown uid")
		return
	}

	var o *override.Override
	state := override.Inherited
	if rid != "" {
		if o, ok = set.Override(rid); ok {
			state = o.State(f)
		}
	}

	v, err := set.Resolver().Resolve(f, o)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		UID:          uid,
		RecurrenceID: rid,
		Field:        f.String(),
		State:        state.String(),
		Value:        v,
	})
}

type visibilityResponse struct {
	Path     string      `json:"path"`
	Entity   string      `json:"entity,omitempty"`
	Visible  bool        `json:"visible"`
	Reshared bool        `json:"reshared"`
	Key      string      `json:"key"`
	Info     *alias.Info `json:"info,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// handleVisibility answers whether an entity (or the collection) is
// visible through an alias.
//
// GET /api/visibility?path=&entity=
// GET /api/visibility?via=/root,/alias,...&entity=
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		writeError(w, http.StatusNotFound, "no collections configured")
		return
	}
	q := r.URL.Query()
	entity := q.Get("entity")

	if via := splitList(q.Get("via")); len(via) > 0 {
		s.visibilityVia(w, via, entity)
		return
	}

	path := q.Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path or via is required")
		return
	}

	rec, err := s.lookup.Visible(r.Context(), path, entity)
	switch {
	case errors.Is(err, alias.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, calerr.ErrAliasCycle):
		writeJSON(w, http.StatusOK, visibilityResponse{
			Path: path, Entity: entity, Key: alias.MakeKey(path, entity), Error: string(calerr.KindAliasCycle),
		})
		return
	case err != nil:
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visibilityResponse{
		Path:     path,
		Entity:   entity,
		Visible:  rec.Info.Visible,
		Reshared: rec.Reshared,
		Key:      rec.Info.Key(),
		Info:     rec.Info,
	})
}

// visibilityVia walks an explicit root-first access path. Trees are built
// per request and not cached.
func (s *Server) visibilityVia(w http.ResponseWriter, via []string, entity string) {
	root, err := s.graph.Build(via[0])
	switch {
	case errors.Is(err, alias.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, calerr.ErrAliasCycle):
		last := via[len(via)-1]
		writeJSON(w, http.StatusOK, visibilityResponse{
			Path: last, Entity: entity, Key: alias.MakeKey(last, entity), Error: string(calerr.KindAliasCycle),
		})
		return
	case err != nil:
		writeCoreError(w, err)
		return
	}
	res := s.graph.Resolve(root, via, entity)
	writeJSON(w, http.StatusOK, visibilityResponse{
		Path:     via[len(via)-1],
		Entity:   entity,
		Visible:  res.Visible,
		Reshared: res.Reshared,
		Key:      res.Key,
		Info:     res.Info,
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) resolveLocation(name string) *time.Location {
	loc, err := s.zones.Load(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

// writeCoreError maps core error kinds onto HTTP statuses.
func writeCoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch calerr.KindOf(err) {
	case calerr.KindUnknownField:
		status = http.StatusBadRequest
	case calerr.KindTypeMismatch, calerr.KindInvalidDate:
		status = http.StatusUnprocessableEntity
	case calerr.KindBadOverrideChain, calerr.KindAliasCycle:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		appLog.Error("api request failed", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
