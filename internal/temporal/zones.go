package temporal

import (
	"strings"
	"sync"
	"time"

	"calcore/internal/calerr"
)

// Zones resolves a TZID into a *time.Location. Implementations must be safe
// for concurrent readers; the core never mutates them.
type Zones interface {
	Load(id string) (*time.Location, error)
}

// Registry is the default Zones implementation backed by the IANA database
// shipped with the Go runtime (or the host). Lookups are memoized.
type Registry struct {
	locs sync.Map // string -> *time.Location
}

// NewRegistry returns an empty registry. Call sites that need a fresh view
// of the zone database (e.g. after tzdata was updated on disk) build a new
// Registry instead of mutating the old one.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// DefaultZones returns the process-wide registry.
func DefaultZones() Zones {
	return defaultRegistry
}

// Load returns the location for id.
func (r *Registry) Load(id string) (*time.Location, error) {
	id = strings.Trim(strings.TrimSpace(id), `"`)
	if id == "" {
		return nil, calerr.InvalidDate("temporal.Zones.Load", "empty zone id")
	}
	if cached, ok := r.locs.Load(id); ok {
		return cached.(*time.Location), nil
	}

	loc, err := loadLocation(id)
	if err != nil {
		e := calerr.InvalidDate("temporal.Zones.Load", "unknown zone").With("zone", id)
		e.Cause = err
		return nil, e
	}
	r.locs.Store(id, loc)
	return loc, nil
}

func loadLocation(id string) (*time.Location, error) {
	switch strings.ToUpper(id) {
	case "Z", "UTC", "GMT", "ETC/UTC":
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(id)
	if err == nil {
		return loc, nil
	}

	// Some producers prefix the IANA name with a vendor path, e.g.
	// "/mozilla.org/20050126_1/Europe/Berlin".
	if strings.HasPrefix(id, "/") {
		parts := strings.Split(id, "/")
		for i := 1; i < len(parts)-1; i++ {
			if l, perr := time.LoadLocation(strings.Join(parts[i:], "/")); perr == nil {
				return l, nil
			}
		}
	}
	return nil, err
}

func zonesOrDefault(z Zones) Zones {
	if z == nil {
		return defaultRegistry
	}
	return z
}
