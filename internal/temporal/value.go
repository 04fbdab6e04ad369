// Package temporal implements the RFC5545 date / date-time value model used
// by the override and recurrence packages.
//
// A Value keeps the authoritative local literal (with an optional TZID) and
// a derived UTC projection. Ordering and range checks use the projection;
// equality uses the literal, its type and its zone.
package temporal

import (
	"encoding/json"
	"strings"
	"time"

	"calcore/internal/calerr"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
	utcLayout      = "20060102T150405Z"

	midnightSuffix = "T000000Z"
)

// Value is an immutable RFC5545 DATE or DATE-TIME.
type Value struct {
	dateOnly bool
	floating bool
	zoneID   string
	local    string
	utc      string

	loc *time.Location
}

// Validity is the result of Value.Validate.
type Validity int

const (
	Ok Validity = iota
	BadTimezonePresence
	BadLiteralLength
)

func (v Validity) String() string {
	switch v {
	case Ok:
		return "ok"
	case BadTimezonePresence:
		return "bad-timezone-presence"
	case BadLiteralLength:
		return "bad-literal-length"
	default:
		return "unknown"
	}
}

// Make builds a value from a local literal and an optional zone.
//
//   - dateOnly: local must be YYYYMMDD; projection is local+"T000000Z".
//   - local ends in "Z": UTC date-time; the projection is the literal.
//   - no zone: floating date-time; projection is local+"Z" and is only
//     meaningful for comparison.
//   - otherwise local is converted from zoneID to UTC.
func Make(dateOnly bool, local, zoneID string, zones Zones) (Value, error) {
	const op = "temporal.Make"

	local = strings.TrimSpace(local)
	if dateOnly {
		if !isDigits(local) || len(local) != 8 {
			return Value{}, calerr.InvalidDate(op, "date literal %q is not YYYYMMDD", local)
		}
		if _, err := time.Parse(dateLayout, local); err != nil {
			return Value{}, wrapInvalid(op, local, err)
		}
		return Value{dateOnly: true, zoneID: zoneID, local: local, utc: local + midnightSuffix}, nil
	}

	if strings.HasSuffix(local, "Z") {
		if _, err := time.Parse(utcLayout, local); err != nil {
			return Value{}, wrapInvalid(op, local, err)
		}
		return Value{zoneID: zoneID, local: local, utc: local, loc: time.UTC}, nil
	}

	if _, err := time.Parse(dateTimeLayout, local); err != nil {
		return Value{}, wrapInvalid(op, local, err)
	}
	if zoneID == "" {
		return Value{floating: true, local: local, utc: local + "Z"}, nil
	}

	loc, err := zonesOrDefault(zones).Load(zoneID)
	if err != nil {
		return Value{}, err
	}
	t, err := time.ParseInLocation(dateTimeLayout, local, loc)
	if err != nil {
		return Value{}, wrapInvalid(op, local, err)
	}
	return Value{zoneID: zoneID, local: local, utc: t.UTC().Format(utcLayout), loc: loc}, nil
}

// FromUTC builds a value from a UTC projection. With a zone the local
// literal is re-derived in that zone; the projection is kept as given.
func FromUTC(dateOnly bool, utc, zoneID string, zones Zones) (Value, error) {
	const op = "temporal.FromUTC"

	utc = strings.TrimSpace(utc)
	if dateOnly {
		if len(utc) == 16 && strings.HasSuffix(utc, midnightSuffix) {
			utc = utc[:8]
		}
		return Make(true, utc, zoneID, zones)
	}

	if !strings.HasSuffix(utc, "Z") {
		return Value{}, calerr.InvalidDate(op, "value %q is not UTC", utc)
	}
	t, err := time.Parse(utcLayout, utc)
	if err != nil {
		return Value{}, wrapInvalid(op, utc, err)
	}
	if zoneID == "" {
		return Value{local: utc, utc: utc, loc: time.UTC}, nil
	}

	loc, err := zonesOrDefault(zones).Load(zoneID)
	if err != nil {
		return Value{}, err
	}
	return Value{zoneID: zoneID, local: t.In(loc).Format(dateTimeLayout), utc: utc, loc: loc}, nil
}

// MustMake is Make for literals known to be valid, mostly in tests.
func MustMake(dateOnly bool, local, zoneID string) Value {
	v, err := Make(dateOnly, local, zoneID, nil)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) DateOnly() bool { return v.dateOnly }
func (v Value) Floating() bool { return v.floating }
func (v Value) ZoneID() string { return v.zoneID }
func (v Value) Local() string  { return v.local }
func (v Value) UTC() string    { return v.utc }

// IsZero reports whether v is the zero Value (no literal).
func (v Value) IsZero() bool { return v.local == "" }

func (v Value) isUTCLiteral() bool {
	return !v.dateOnly && strings.HasSuffix(v.local, "Z")
}

// Compare orders by UTC projection. The projection is fixed-width and
// zero-padded, so string comparison is chronological.
func Compare(a, b Value) int {
	return strings.Compare(a.utc, b.utc)
}

func (v Value) Before(o Value) bool { return Compare(v, o) < 0 }
func (v Value) After(o Value) bool  { return Compare(v, o) > 0 }

// Equal compares type, zone and local literal. Two values with the same
// projection but different zones are not equal.
func (v Value) Equal(o Value) bool {
	return v.dateOnly == o.dateOnly && v.zoneID == o.zoneID && v.local == o.local
}

// Time returns the wall-clock time in the value's location. Floating and
// date-only values use a UTC frame.
func (v Value) Time() time.Time {
	if v.IsZero() {
		return time.Time{}
	}
	var (
		t   time.Time
		err error
	)
	switch {
	case v.dateOnly:
		t, err = time.Parse(dateLayout, v.local)
	case v.isUTCLiteral():
		t, err = time.Parse(utcLayout, v.local)
	case v.floating || v.loc == nil:
		t, err = time.Parse(dateTimeLayout, v.local)
	default:
		t, err = time.ParseInLocation(dateTimeLayout, v.local, v.loc)
	}
	if err != nil {
		// Unreachable for values built by this package.
		return time.Time{}
	}
	return t
}

// Instant returns the UTC projection as a time.Time.
func (v Value) Instant() time.Time {
	if v.IsZero() {
		return time.Time{}
	}
	t, err := time.Parse(utcLayout, v.utc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// WithTime returns a value of the same shape as v (date-only, floating, UTC
// or zoned) at wall time t. t is interpreted in v's frame.
func (v Value) WithTime(t time.Time) Value {
	switch {
	case v.dateOnly:
		local := t.Format(dateLayout)
		return Value{dateOnly: true, zoneID: v.zoneID, local: local, utc: local + midnightSuffix}
	case v.floating:
		local := t.Format(dateTimeLayout)
		return Value{floating: true, local: local, utc: local + "Z"}
	case v.isUTCLiteral() || v.loc == nil:
		u := t.UTC().Format(utcLayout)
		return Value{zoneID: v.zoneID, local: u, utc: u, loc: time.UTC}
	default:
		t = t.In(v.loc)
		return Value{zoneID: v.zoneID, local: t.Format(dateTimeLayout), utc: t.UTC().Format(utcLayout), loc: v.loc}
	}
}

// AddDuration returns v+d. Date-only values only accept whole days/weeks.
func (v Value) AddDuration(d Duration) (Value, error) {
	const op = "temporal.AddDuration"
	if v.IsZero() {
		return Value{}, calerr.InvalidDate(op, "zero value")
	}
	if v.dateOnly && d.HasTime() {
		return Value{}, calerr.TypeMismatch(op, "duration %s has a time part but %s is a date", d, v.local)
	}
	return v.WithTime(d.AddTo(v.Time())), nil
}

// NextDay is defined for date-only values.
func (v Value) NextDay() (Value, error) {
	return v.shiftDays("temporal.NextDay", 1)
}

// PreviousDay is defined for date-only values.
func (v Value) PreviousDay() (Value, error) {
	return v.shiftDays("temporal.PreviousDay", -1)
}

func (v Value) shiftDays(op string, n int) (Value, error) {
	if !v.dateOnly {
		return Value{}, calerr.TypeMismatch(op, "%q is not a date", v.local)
	}
	return v.WithTime(v.Time().AddDate(0, 0, n)), nil
}

// Validate checks zone/literal consistency.
func (v Value) Validate() Validity {
	if v.dateOnly {
		if v.zoneID != "" {
			return BadTimezonePresence
		}
		return Ok
	}
	if len(v.local) == 16 {
		if !strings.HasSuffix(v.local, "Z") {
			return BadLiteralLength
		}
		if v.zoneID != "" {
			return BadTimezonePresence
		}
	}
	return Ok
}

func (v Value) String() string {
	if v.zoneID != "" {
		return "TZID=" + v.zoneID + ":" + v.local
	}
	return v.local
}

type valueJSON struct {
	DateOnly bool   `json:"date_only,omitempty"`
	Floating bool   `json:"floating,omitempty"`
	TZID     string `json:"tzid,omitempty"`
	Local    string `json:"local"`
	UTC      string `json:"utc"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueJSON{
		DateOnly: v.dateOnly,
		Floating: v.floating,
		TZID:     v.zoneID,
		Local:    v.local,
		UTC:      v.utc,
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func wrapInvalid(op, literal string, err error) error {
	e := calerr.InvalidDate(op, "cannot parse %q", literal)
	e.Cause = err
	return e
}
