package temporal

import (
	"strings"

	ical "github.com/arran4/golang-ical"

	"calcore/internal/calerr"
)

// FromProperty builds a value from a DTSTART/DTEND/DUE/RECURRENCE-ID style
// property. VALUE=DATE or an 8-character literal marks a date; TZID is
// carried as given so Validate can report a date that wrongly has one.
func FromProperty(prop *ical.IANAProperty, zones Zones) (Value, error) {
	if prop == nil {
		return Value{}, calerr.InvalidDate("temporal.FromProperty", "nil property")
	}
	return fromPropertyValue(prop, prop.Value, zones)
}

// FromPropertyList handles comma separated multi-value properties such as
// EXDATE and RDATE.
func FromPropertyList(prop *ical.IANAProperty, zones Zones) ([]Value, error) {
	if prop == nil {
		return nil, calerr.InvalidDate("temporal.FromPropertyList", "nil property")
	}
	var out []Value
	for _, part := range strings.Split(prop.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := fromPropertyValue(prop, part, zones)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func fromPropertyValue(prop *ical.IANAProperty, literal string, zones Zones) (Value, error) {
	literal = strings.TrimSpace(literal)

	dateOnly := !strings.Contains(literal, "T") && len(literal) == 8
	if vs := prop.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}

	zone := ""
	if tz := prop.ICalParameters["TZID"]; len(tz) > 0 {
		zone = tz[0]
	}
	return Make(dateOnly, literal, zone, zones)
}
