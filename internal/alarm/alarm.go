// Package alarm computes VALARM trigger instants.
//
// Trigger computation is pure: nothing is cached on the Alarm, so calling
// NextTrigger repeatedly with the same arguments always yields the same
// answer. Callers that want to remember "the last trigger fired" keep that
// state themselves and pass it back in as the after argument.
package alarm

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calcore/internal/calerr"
	"calcore/internal/temporal"
)

// Alarm is a VALARM reduced to what trigger math needs.
type Alarm struct {
	Action      string
	Description string

	// Trigger is the offset from the start (or end, with RelatedEnd).
	// Ignored when Absolute is set.
	Trigger    temporal.Duration
	RelatedEnd bool
	Absolute   temporal.Value

	// Repeat additional firings, Interval apart.
	Repeat   int
	Interval temporal.Duration
}

// Equal compares alarms field by field.
func (a Alarm) Equal(b Alarm) bool {
	return a.Action == b.Action &&
		a.Description == b.Description &&
		a.Trigger == b.Trigger &&
		a.RelatedEnd == b.RelatedEnd &&
		a.Absolute.Equal(b.Absolute) &&
		a.Repeat == b.Repeat &&
		a.Interval == b.Interval
}

// Triggers returns every firing instant in UTC, first one first.
func (a Alarm) Triggers(start, end temporal.Value) ([]time.Time, error) {
	const op = "alarm.Triggers"

	if a.Repeat < 0 {
		return nil, calerr.InvalidDate(op, "negative repeat %d", a.Repeat)
	}
	if a.Repeat > 0 && a.Interval.IsZero() {
		return nil, calerr.InvalidDate(op, "repeat %d without a duration", a.Repeat)
	}

	var base time.Time
	switch {
	case !a.Absolute.IsZero():
		base = a.Absolute.Instant()
	case a.RelatedEnd:
		if end.IsZero() {
			return nil, calerr.InvalidDate(op, "trigger related to end but the component has no end")
		}
		base = a.Trigger.AddTo(end.Time())
	default:
		if start.IsZero() {
			return nil, calerr.InvalidDate(op, "trigger related to start but the component has no start")
		}
		base = a.Trigger.AddTo(start.Time())
	}

	out := make([]time.Time, 0, a.Repeat+1)
	out = append(out, base.UTC())
	for i := 1; i <= a.Repeat; i++ {
		out = append(out, a.Interval.Scale(i).AddTo(base).UTC())
	}
	return out, nil
}

// NextTrigger returns the first trigger strictly after after. ok is false
// once every repetition has fired.
func (a Alarm) NextTrigger(start, end temporal.Value, after time.Time) (next time.Time, ok bool, err error) {
	triggers, err := a.Triggers(start, end)
	if err != nil {
		return time.Time{}, false, err
	}
	for _, t := range triggers {
		if t.After(after) {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

// FromComponent reads ACTION, DESCRIPTION, TRIGGER, REPEAT and DURATION
// from a VALARM.
func FromComponent(va *ical.VAlarm, zones temporal.Zones) (Alarm, error) {
	const op = "alarm.FromComponent"

	var a Alarm
	if va == nil {
		return a, calerr.InvalidDate(op, "nil VALARM")
	}
	if p := va.GetProperty(ical.ComponentProperty("ACTION")); p != nil {
		a.Action = strings.ToUpper(strings.TrimSpace(p.Value))
	}
	if p := va.GetProperty(ical.ComponentProperty("DESCRIPTION")); p != nil {
		a.Description = p.Value
	}

	trig := va.GetProperty(ical.ComponentProperty("TRIGGER"))
	if trig == nil {
		return a, calerr.InvalidDate(op, "VALARM without TRIGGER")
	}
	if vs := trig.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE-TIME") {
		abs, err := temporal.FromProperty(trig, zones)
		if err != nil {
			return a, err
		}
		a.Absolute = abs
	} else {
		d, err := temporal.ParseDuration(trig.Value)
		if err != nil {
			return a, err
		}
		a.Trigger = d
		if rel := trig.ICalParameters["RELATED"]; len(rel) > 0 && strings.EqualFold(rel[0], "END") {
			a.RelatedEnd = true
		}
	}

	if p := va.GetProperty(ical.ComponentProperty("REPEAT")); p != nil {
		n, err := strconv.Atoi(strings.TrimSpace(p.Value))
		if err != nil {
			return a, calerr.InvalidDate(op, "bad REPEAT %q", p.Value)
		}
		a.Repeat = n
	}
	if p := va.GetProperty(ical.ComponentProperty("DURATION")); p != nil {
		d, err := temporal.ParseDuration(p.Value)
		if err != nil {
			return a, err
		}
		a.Interval = d
	}
	return a, nil
}
