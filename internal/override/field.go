package override

import (
	"strings"

	"calcore/internal/calerr"
)

// Field identifies a property that participates in override tracking.
// The order is persisted (one flag character per field), so new fields
// are only ever appended.
type Field int

const (
	EntityType Field = iota
	Classification
	Link
	Geo
	Deleted
	Status
	Cost
	Organizer
	DtStamp
	LastModified
	Created
	Priority
	Sequence
	Location
	UID
	Transparency
	PercentComplete
	Completed
	ScheduleMethod
	Originator
	ScheduleState
	RelatedTo
	XProperties
	RequestStatuses
	Recurring
	RecurrenceID
	RRules
	ExRules
	RDates
	ExDates
	DtStart
	DtEnd
	EndType
	Duration
	NoStart
	Alarms
	Attachments
	Attendees
	Categories
	Comments
	Contacts
	Description
	Recipients
	Resources
	Summary
	CToken
	BusyType
	PollWinner
	PollAcceptResponse
	PollMode
	PollProperties
	PollItemID
	PollItems
	PollCandidate
	Voters
	Name
	Color
	Concepts
	Due

	// NumFields is the size of the enumeration.
	NumFields int = iota
)

// Kind is the value shape stored for a field. It decides what the empty
// value of the field is.
type Kind int

const (
	KindText   Kind = iota // string
	KindInt                // int
	KindBool               // bool
	KindTime               // temporal.Value
	KindTimes              // []temporal.Value
	KindList               // []string
	KindAlarms             // []alarm.Alarm
)

type fieldInfo struct {
	name    string
	kind    Kind
	perUser bool
}

var fields = [NumFields]fieldInfo{
	EntityType:         {name: "entity-type", kind: KindInt},
	Classification:     {name: "class", kind: KindText},
	Link:               {name: "url", kind: KindText},
	Geo:                {name: "geo", kind: KindText},
	Deleted:            {name: "deleted", kind: KindBool},
	Status:             {name: "status", kind: KindText},
	Cost:               {name: "cost", kind: KindText},
	Organizer:          {name: "organizer", kind: KindText},
	DtStamp:            {name: "dtstamp", kind: KindTime},
	LastModified:       {name: "last-modified", kind: KindTime},
	Created:            {name: "created", kind: KindTime},
	Priority:           {name: "priority", kind: KindInt},
	Sequence:           {name: "sequence", kind: KindInt},
	Location:           {name: "location", kind: KindText},
	UID:                {name: "uid", kind: KindText},
	Transparency:       {name: "transp", kind: KindText, perUser: true},
	PercentComplete:    {name: "percent-complete", kind: KindInt},
	Completed:          {name: "completed", kind: KindTime},
	ScheduleMethod:     {name: "schedule-method", kind: KindInt},
	Originator:         {name: "originator", kind: KindText},
	ScheduleState:      {name: "schedule-state", kind: KindInt},
	RelatedTo:          {name: "related-to", kind: KindText},
	XProperties:        {name: "x-properties", kind: KindList},
	RequestStatuses:    {name: "request-status", kind: KindList},
	Recurring:          {name: "recurring", kind: KindBool},
	RecurrenceID:       {name: "recurrence-id", kind: KindTime},
	RRules:             {name: "rrule", kind: KindList},
	ExRules:            {name: "exrule", kind: KindList},
	RDates:             {name: "rdate", kind: KindTimes},
	ExDates:            {name: "exdate", kind: KindTimes},
	DtStart:            {name: "dtstart", kind: KindTime},
	DtEnd:              {name: "dtend", kind: KindTime},
	EndType:            {name: "end-type", kind: KindText},
	Duration:           {name: "duration", kind: KindText},
	NoStart:            {name: "no-start", kind: KindBool},
	Alarms:             {name: "alarms", kind: KindAlarms, perUser: true},
	Attachments:        {name: "attach", kind: KindList},
	Attendees:          {name: "attendee", kind: KindList},
	Categories:         {name: "categories", kind: KindList},
	Comments:           {name: "comment", kind: KindList},
	Contacts:           {name: "contact", kind: KindList},
	Description:        {name: "description", kind: KindText},
	Recipients:         {name: "recipients", kind: KindList},
	Resources:          {name: "resources", kind: KindList},
	Summary:            {name: "summary", kind: KindText},
	CToken:             {name: "ctoken", kind: KindText},
	BusyType:           {name: "busytype", kind: KindInt},
	PollWinner:         {name: "poll-winner", kind: KindInt},
	PollAcceptResponse: {name: "accept-response", kind: KindText},
	PollMode:           {name: "poll-mode", kind: KindText},
	PollProperties:     {name: "poll-properties", kind: KindText},
	PollItemID:         {name: "poll-item-id", kind: KindInt},
	PollItems:          {name: "poll-items", kind: KindList},
	PollCandidate:      {name: "poll-candidate", kind: KindBool},
	Voters:             {name: "voter", kind: KindList},
	Name:               {name: "name", kind: KindText},
	Color:              {name: "color", kind: KindText},
	Concepts:           {name: "concept", kind: KindList},
	Due:                {name: "due", kind: KindTime},
}

// Valid reports whether f is inside the enumeration.
func (f Field) Valid() bool {
	return f >= 0 && int(f) < NumFields
}

func (f Field) String() string {
	if !f.Valid() {
		return "unknown-field"
	}
	return fields[f].name
}

// Kind returns the value shape of f. Callers must check Valid first.
func (f Field) Kind() Kind {
	return fields[f].kind
}

// PerUser reports whether f is a per-user property. Changes to per-user
// properties are not significant for scheduling.
func (f Field) PerUser() bool {
	return f.Valid() && fields[f].perUser
}

// ParseField maps a field name (as returned by String) back to a Field.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range fields {
		if fields[i].name == name {
			return Field(i), nil
		}
	}
	return 0, calerr.UnknownField("override.ParseField", "no field named %q", name)
}

func checkField(op string, f Field) error {
	if !f.Valid() {
		return calerr.UnknownField(op, "field index %d outside 0..%d", int(f), NumFields-1)
	}
	return nil
}
