package recurrence

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calcore/internal/calerr"
	appLog "calcore/internal/log"
	"calcore/internal/override"
	"calcore/internal/pathkey"
	"calcore/internal/temporal"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Config controls how recurrence expansion is performed.
type Config struct {
	// RangeStart / RangeEnd define the inclusive window. Floating and
	// date-only values are compared in a UTC frame.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the number of generated instances per master.
	// Zero means defaultMaxOccurrencesPerEvent.
	MaxOccurrences int
}

// Set is one master and its overrides.
type Set struct {
	master    *override.Entity
	resolver  *override.Resolver
	overrides map[string]*override.Override // by recurrence-id projection
	others    []*override.Override          // annotations
}

// NewSet groups overrides with their master. Every override must point at
// master; instance overrides must carry a recurrence id.
func NewSet(master *override.Entity, overrides ...*override.Override) (*Set, error) {
	const op = "recurrence.NewSet"
	if master == nil {
		return nil, calerr.BadOverrideChain(op, "set without a master")
	}
	s := &Set{
		master:    master,
		resolver:  override.NewResolver(master),
		overrides: make(map[string]*override.Override),
	}
	for _, o := range overrides {
		if o.Master() != master {
			return nil, calerr.BadOverrideChain(op, "override of %q added to set of %q", o.Master().UID(), master.UID())
		}
		if !o.IsOverride() {
			s.others = append(s.others, o)
			continue
		}
		rid := o.RecurrenceID()
		if rid.IsZero() {
			return nil, calerr.BadOverrideChain(op, "instance override of %q without a recurrence id", master.UID())
		}
		// Later overrides of the same instance win, as with SEQUENCE bumps.
		s.overrides[rid.UTC()] = o
	}
	return s, nil
}

func (s *Set) Master() *override.Entity     { return s.master }
func (s *Set) Resolver() *override.Resolver { return s.resolver }

// Override returns the instance override for a recurrence id projection.
func (s *Set) Override(ridUTC string) (*override.Override, bool) {
	o, ok := s.overrides[ridUTC]
	return o, ok
}

// Annotations returns the non-instance overrides of the master.
func (s *Set) Annotations() []*override.Override {
	return s.others
}

// Instance is one concrete occurrence of a master.
type Instance struct {
	UID          string
	RecurrenceID temporal.Value
	Start        temporal.Value
	End          temporal.Value
	Override     *override.Override

	resolver *override.Resolver
}

// Key is the per-instance cache key (uid/recurrence-id).
func (i Instance) Key() string {
	return pathkey.Join(i.UID, i.RecurrenceID.UTC())
}

// Resolve returns the effective value of f for this instance. Start, end
// and recurrence id are instance specific and come from the expansion.
func (i Instance) Resolve(f override.Field) (any, error) {
	switch f {
	case override.DtStart:
		return i.Start, nil
	case override.DtEnd:
		return i.End, nil
	case override.RecurrenceID:
		return i.RecurrenceID, nil
	}
	return i.resolver.Resolve(f, i.Override)
}

// Text is Resolve for text fields.
func (i Instance) Text(f override.Field) (string, error) {
	return i.resolver.Text(f, i.Override)
}

// Result wraps the expanded instances.
type Result struct {
	Instances []Instance
	Truncated bool
}

// Expand produces the instances of the set that intersect the window:
//
//   - single, non-recurring masters
//   - RRULE and RDATE based recurrence, minus EXDATE
//   - RECURRENCE-ID overrides, including ones moved into the window
//
// Instances are returned in UTC-projection order.
func (s *Set) Expand(cfg Config) (Result, error) {
	const op = "recurrence.Expand"
	var result Result

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, calerr.InvalidDate(op, "range end is before range start")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrencesPerEvent
	}

	start, end, err := s.masterSpan()
	if err != nil {
		return result, err
	}
	length := end.Time().Sub(start.Time())

	rules, err := s.resolver.List(override.RRules, nil)
	if err != nil {
		return result, err
	}
	rdates, err := s.resolver.Times(override.RDates, nil)
	if err != nil {
		return result, err
	}
	exdates, err := s.resolver.Times(override.ExDates, nil)
	if err != nil {
		return result, err
	}

	var occStarts []time.Time
	if len(rules) == 0 && len(rdates) == 0 {
		occStarts = []time.Time{start.Time()}
	} else {
		set, err := s.buildRuleSet(start, rules, rdates, exdates)
		if err != nil {
			return result, err
		}
		// Widen the lower bound so instances that started before the window
		// but are still running are included.
		from := inFrame(start, cfg.RangeStart.Add(-length))
		to := inFrame(start, cfg.RangeEnd)
		occStarts = set.Between(from, to, true)
	}

	if len(occStarts) > cfg.MaxOccurrences {
		occStarts = occStarts[:cfg.MaxOccurrences]
		result.Truncated = true
		appLog.Warn("recurrence: truncated instances due to cap",
			"uid", s.master.UID(),
			"cap", cfg.MaxOccurrences,
		)
	}

	matched := make(map[string]bool)
	for _, occ := range occStarts {
		rid := start.WithTime(occ)
		inst := Instance{
			UID:          s.master.UID(),
			RecurrenceID: rid,
			Start:        rid,
			End:          end.WithTime(occ.Add(length)),
			resolver:     s.resolver,
		}
		if o, ok := s.overrides[rid.UTC()]; ok {
			matched[rid.UTC()] = true
			if err := s.applyOverride(&inst, o, end, length); err != nil {
				return result, err
			}
		}
		if overlaps(inst, cfg) {
			result.Instances = append(result.Instances, inst)
		}
	}

	excluded := make(map[string]bool, len(exdates))
	for _, ex := range exdates {
		excluded[ex.UTC()] = true
	}
	for key, o := range s.overrides {
		if matched[key] || excluded[key] {
			continue
		}
		inst := Instance{
			UID:          s.master.UID(),
			RecurrenceID: o.RecurrenceID(),
			Start:        o.RecurrenceID(),
			End:          end.WithTime(o.RecurrenceID().Time().Add(length)),
			resolver:     s.resolver,
		}
		if err := s.applyOverride(&inst, o, end, length); err != nil {
			return result, err
		}
		if overlaps(inst, cfg) {
			result.Instances = append(result.Instances, inst)
		}
	}

	sort.SliceStable(result.Instances, func(i, j int) bool {
		return temporal.Compare(result.Instances[i].Start, result.Instances[j].Start) < 0
	})
	return result, nil
}

// masterSpan resolves the master's start and end. A missing end falls back
// to DURATION, then to one day for dates and zero length otherwise.
func (s *Set) masterSpan() (temporal.Value, temporal.Value, error) {
	const op = "recurrence.Expand"

	start, err := s.resolver.Time(override.DtStart, nil)
	if err != nil {
		return temporal.Value{}, temporal.Value{}, err
	}
	if start.IsZero() {
		return temporal.Value{}, temporal.Value{}, calerr.InvalidDate(op, "master %q has no start", s.master.UID())
	}

	end, err := s.resolver.Time(override.DtEnd, nil)
	if err != nil {
		return temporal.Value{}, temporal.Value{}, err
	}
	if !end.IsZero() {
		if end.Before(start) {
			return temporal.Value{}, temporal.Value{}, calerr.InvalidDate(op, "master %q ends before it starts", s.master.UID())
		}
		return start, end, nil
	}

	durText, err := s.resolver.Text(override.Duration, nil)
	if err != nil {
		return temporal.Value{}, temporal.Value{}, err
	}
	switch {
	case durText != "":
		d, err := temporal.ParseDuration(durText)
		if err != nil {
			return temporal.Value{}, temporal.Value{}, err
		}
		end, err = start.AddDuration(d)
		if err != nil {
			return temporal.Value{}, temporal.Value{}, err
		}
	case start.DateOnly():
		end, err = start.NextDay()
		if err != nil {
			return temporal.Value{}, temporal.Value{}, err
		}
	default:
		end = start
	}
	return start, end, nil
}

func (s *Set) buildRuleSet(start temporal.Value, rules []string, rdates, exdates []temporal.Value) (*rrule.Set, error) {
	set := &rrule.Set{}
	for _, raw := range rules {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
		r, err := rrule.StrToRRule(raw)
		if err != nil {
			appLog.Error("recurrence: failed to parse RRULE", err, "uid", s.master.UID(), "rrule", raw)
			e := calerr.InvalidDate("recurrence.Expand", "bad rrule %q", raw)
			e.Cause = err
			return nil, e
		}
		// Ensure DTSTART is set to the master's start in its own frame.
		r.DTStart(start.Time())
		set.RRule(r)
	}
	for _, rd := range rdates {
		set.RDate(inFrame(start, rd.Instant()))
	}
	for _, ex := range exdates {
		set.ExDate(inFrame(start, ex.Instant()))
	}
	return set, nil
}

// applyOverride moves inst to the override's start and end. An override
// that moves the start or changes the duration without an explicit end of
// its own keeps its resolved duration, or the master's length, from the new
// start.
func (s *Set) applyOverride(inst *Instance, o *override.Override, end temporal.Value, length time.Duration) error {
	inst.Override = o
	moved := o.State(override.DtStart) == override.SetToValue
	if moved {
		v, err := s.resolver.Time(override.DtStart, o)
		if err != nil {
			return err
		}
		inst.Start = v
	}
	if o.State(override.DtEnd) == override.SetToValue {
		v, err := s.resolver.Time(override.DtEnd, o)
		if err != nil {
			return err
		}
		inst.End = v
		return nil
	}
	if !moved && o.State(override.Duration) == override.Inherited {
		return nil
	}

	durText, err := s.resolver.Text(override.Duration, o)
	if err != nil {
		return err
	}
	if durText == "" {
		inst.End = end.WithTime(inst.Start.Time().Add(length))
		return nil
	}
	d, err := temporal.ParseDuration(durText)
	if err != nil {
		return err
	}
	v, err := inst.Start.AddDuration(d)
	if err != nil {
		return err
	}
	inst.End = v
	return nil
}

// inFrame moves t into the frame recurrence math runs in for start: the
// start's location for zoned values, a naive UTC frame otherwise.
func inFrame(start temporal.Value, t time.Time) time.Time {
	if start.DateOnly() || start.Floating() {
		return t.UTC()
	}
	return t.In(start.Time().Location())
}

func overlaps(inst Instance, cfg Config) bool {
	s := inst.Start.Instant()
	e := inst.End.Instant()
	if e.Before(cfg.RangeStart) {
		return false
	}
	if cfg.RangeEnd.Before(s) {
		return false
	}
	return true
}
