package ics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"

	"calcore/internal/alarm"
	appLog "calcore/internal/log"
	"calcore/internal/override"
	"calcore/internal/recurrence"
	"calcore/internal/temporal"
)

// Calendar is one parsed source: a recurrence set per UID.
type Calendar struct {
	Source Source
	Sets   []*recurrence.Set

	// Skipped counts VEVENTs dropped because they were unusable (no UID,
	// bad values, or an override without its master).
	Skipped int
}

// Set returns the recurrence set for uid.
func (c *Calendar) Set(uid string) (*recurrence.Set, bool) {
	for _, s := range c.Sets {
		if s.Master().UID() == uid {
			return s, true
		}
	}
	return nil, false
}

// textProps, intProps and timeProps map single-valued properties to fields.
var textProps = map[string]override.Field{
	"SUMMARY":     override.Summary,
	"DESCRIPTION": override.Description,
	"LOCATION":    override.Location,
	"STATUS":      override.Status,
	"CLASS":       override.Classification,
	"URL":         override.Link,
	"GEO":         override.Geo,
	"ORGANIZER":   override.Organizer,
	"TRANSP":      override.Transparency,
	"RELATED-TO":  override.RelatedTo,
	"COLOR":       override.Color,
	"DURATION":    override.Duration,
}

var intProps = map[string]override.Field{
	"PRIORITY":         override.Priority,
	"SEQUENCE":         override.Sequence,
	"PERCENT-COMPLETE": override.PercentComplete,
}

var timeProps = map[string]override.Field{
	"DTSTART":       override.DtStart,
	"DTEND":         override.DtEnd,
	"DUE":           override.Due,
	"RECURRENCE-ID": override.RecurrenceID,
	"DTSTAMP":       override.DtStamp,
	"CREATED":       override.Created,
	"LAST-MODIFIED": override.LastModified,
	"COMPLETED":     override.Completed,
}

// listProps may repeat; commaLists additionally split their value.
var listProps = map[string]override.Field{
	"RRULE":          override.RRules,
	"EXRULE":         override.ExRules,
	"ATTACH":         override.Attachments,
	"ATTENDEE":       override.Attendees,
	"CATEGORIES":     override.Categories,
	"COMMENT":        override.Comments,
	"CONTACT":        override.Contacts,
	"RESOURCES":      override.Resources,
	"REQUEST-STATUS": override.RequestStatuses,
}

var commaLists = map[string]bool{
	"CATEGORIES": true,
	"RESOURCES":  true,
}

var timesProps = map[string]override.Field{
	"RDATE":  override.RDates,
	"EXDATE": override.ExDates,
}

// Parse reads an iCalendar payload into recurrence sets. VEVENTs sharing a
// UID are grouped: the one without RECURRENCE-ID is the master and the
// others become sparse instance overrides of it. Broken events are logged
// and skipped; only an unreadable payload is an error.
func Parse(src Source, body []byte, zones temporal.Zones) (*Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	out := &Calendar{Source: src}
	masters := make(map[string]*override.Entity)
	pending := make(map[string][]map[override.Field]any)
	var order []string

	for _, ve := range cal.Events() {
		values, err := readEvent(ve, zones)
		if err != nil {
			out.Skipped++
			appLog.Error("ics vevent skipped", err, "id", src.ID)
			continue
		}
		uid, _ := values[override.UID].(string)
		if _, isInstance := values[override.RecurrenceID]; isInstance {
			pending[uid] = append(pending[uid], values)
			continue
		}
		if _, dup := masters[uid]; dup {
			out.Skipped++
			appLog.Warn("ics duplicate master skipped", "id", src.ID, "uid", uid)
			continue
		}
		master, err := newMaster(uid, values)
		if err != nil {
			out.Skipped++
			appLog.Error("ics master rejected", err, "id", src.ID, "uid", uid)
			continue
		}
		masters[uid] = master
		order = append(order, uid)
	}

	for uid, instances := range pending {
		if _, ok := masters[uid]; !ok {
			out.Skipped += len(instances)
			appLog.Warn("ics overrides without master skipped", "id", src.ID, "uid", uid, "count", len(instances))
		}
	}

	for _, uid := range order {
		master := masters[uid]
		overrides := make([]*override.Override, 0, len(pending[uid]))
		for _, values := range pending[uid] {
			o, err := override.Diff(master, values, true)
			if err != nil {
				out.Skipped++
				appLog.Error("ics override rejected", err, "id", src.ID, "uid", uid)
				continue
			}
			overrides = append(overrides, o)
		}
		sort.Slice(overrides, func(i, j int) bool {
			return overrides[i].RecurrenceID().Before(overrides[j].RecurrenceID())
		})

		set, err := recurrence.NewSet(master, overrides...)
		if err != nil {
			out.Skipped += 1 + len(overrides)
			appLog.Error("ics recurrence set rejected", err, "id", src.ID, "uid", uid)
			continue
		}
		out.Sets = append(out.Sets, set)
	}

	appLog.Info("ics parse completed", "id", src.ID, "sets", len(out.Sets), "skipped", out.Skipped)
	return out, nil
}

func newMaster(uid string, values map[override.Field]any) (*override.Entity, error) {
	m := override.NewEntity(uid)
	for f, v := range values {
		if f == override.UID {
			continue
		}
		if err := m.Set(f, v); err != nil {
			return nil, err
		}
	}
	rules, _ := values[override.RRules].([]string)
	rdates, _ := values[override.RDates].([]temporal.Value)
	if err := m.Set(override.Recurring, len(rules) > 0 || len(rdates) > 0); err != nil {
		return nil, err
	}
	return m, nil
}

// readEvent collects the field values of one VEVENT.
func readEvent(ve *ical.VEvent, zones temporal.Zones) (map[override.Field]any, error) {
	values := make(map[override.Field]any)

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return nil, errors.New("ics: VEVENT without UID")
	}
	values[override.UID] = strings.TrimSpace(uid.Value)

	var xprops []string
	for i := range ve.Properties {
		p := &ve.Properties[i]
		name := strings.ToUpper(p.IANAToken)

		if f, ok := textProps[name]; ok {
			if f == override.Duration {
				if _, err := temporal.ParseDuration(p.Value); err != nil {
					return nil, err
				}
			}
			values[f] = p.Value
			continue
		}
		if f, ok := intProps[name]; ok {
			n, err := strconv.Atoi(strings.TrimSpace(p.Value))
			if err != nil {
				return nil, fmt.Errorf("ics: %s %q: %w", name, p.Value, err)
			}
			values[f] = n
			continue
		}
		if f, ok := timeProps[name]; ok {
			v, err := temporal.FromProperty(p, zones)
			if err != nil {
				return nil, err
			}
			warnInvalid(values[override.UID], name, v)
			values[f] = v
			continue
		}
		if f, ok := timesProps[name]; ok {
			vs, err := temporal.FromPropertyList(p, zones)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				warnInvalid(values[override.UID], name, v)
			}
			prev, _ := values[f].([]temporal.Value)
			values[f] = append(prev, vs...)
			continue
		}
		if f, ok := listProps[name]; ok {
			prev, _ := values[f].([]string)
			if commaLists[name] {
				for _, part := range strings.Split(p.Value, ",") {
					if part = strings.TrimSpace(part); part != "" {
						prev = append(prev, part)
					}
				}
			} else {
				prev = append(prev, p.Value)
			}
			values[f] = prev
			continue
		}
		if strings.HasPrefix(name, "X-") {
			xprops = append(xprops, name+":"+p.Value)
		}
	}
	if len(xprops) > 0 {
		values[override.XProperties] = xprops
	}

	var alarms []alarm.Alarm
	for _, c := range ve.Components {
		va, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		a, err := alarm.FromComponent(va, zones)
		if err != nil {
			appLog.Warn("ics valarm skipped", "uid", values[override.UID], "err", err)
			continue
		}
		alarms = append(alarms, a)
	}
	if len(alarms) > 0 {
		values[override.Alarms] = alarms
	}
	return values, nil
}

func warnInvalid(uid any, prop string, v temporal.Value) {
	if r := v.Validate(); r != temporal.Ok {
		appLog.Warn("ics value fails validation", "uid", uid, "property", prop, "value", v.String(), "reason", r.String())
	}
}
