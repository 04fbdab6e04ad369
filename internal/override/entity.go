package override

import (
	"github.com/google/uuid"

	"calcore/internal/calerr"
	"calcore/internal/pathkey"
	"calcore/internal/temporal"
)

// Entity is a master (root) recurring component. It is the sole owner of
// the default field values for every instance of its recurrence set.
//
// Entity is not safe for concurrent mutation; callers serialize writers per
// UID.
type Entity struct {
	uid         string
	values      [NumFields]any
	scheduleTag string
}

// NewEntity returns an empty master with its UID field set.
func NewEntity(uid string) *Entity {
	e := &Entity{uid: uid}
	e.values[UID] = uid
	return e
}

func (e *Entity) UID() string { return e.uid }

// Get returns the stored value of f, or the empty value of its kind.
func (e *Entity) Get(f Field) (any, error) {
	if err := checkField("override.Entity.Get", f); err != nil {
		return nil, err
	}
	return normalize(f, e.values[f]), nil
}

// Set stores v for f. A change to a field that is not per-user drops the
// schedule tag so the next ScheduleTag call mints a new one.
func (e *Entity) Set(f Field, v any) error {
	const op = "override.Entity.Set"
	if err := checkField(op, f); err != nil {
		return err
	}
	if err := checkValue(op, f, v); err != nil {
		return err
	}
	if f == UID {
		return calerr.TypeMismatch(op, "uid of %q is immutable", e.uid)
	}

	old := e.values[f]
	e.values[f] = v
	if !f.PerUser() && !valuesEqual(old, v) {
		e.scheduleTag = ""
	}
	return nil
}

// ScheduleTag returns the current schedule tag, minting one if the last
// significant change invalidated it.
func (e *Entity) ScheduleTag() string {
	if e.scheduleTag == "" {
		e.scheduleTag = uuid.NewString()
	}
	return e.scheduleTag
}

// RestoreScheduleTag installs a tag read back from storage.
func (e *Entity) RestoreScheduleTag(tag string) {
	e.scheduleTag = tag
}

// Override supplies sparse replacements for one instance of a master
// (IsOverride) or for a re-owned copy of it (annotation).
//
// The master handle is non-owning and always points at the root. target is
// the immediate parent override and is only used to rebuild the literal
// chain; nil means the master itself.
type Override struct {
	master     *Entity
	target     *Override
	isOverride bool

	values [NumFields]any
	flags  Flags
}

// NewOverride creates an override of master. target, when non-nil, must be
// another override of the same master.
func NewOverride(master *Entity, target *Override, isOverride bool) (*Override, error) {
	const op = "override.NewOverride"
	if master == nil {
		return nil, calerr.BadOverrideChain(op, "override without a master")
	}
	if target != nil && target.master != master {
		return nil, calerr.BadOverrideChain(op, "target overrides %q, not %q", target.master.uid, master.uid).
			With("uid", master.uid)
	}
	return &Override{master: master, target: target, isOverride: isOverride}, nil
}

// Snapshot is an override as persisted by a storage layer.
type Snapshot struct {
	IsOverride bool
	Flags      string
	Values     map[Field]any
}

// Restore rebuilds an override from a storage snapshot. Values and the
// flag string must agree: every SetToValue field has a value and no other
// field does.
func Restore(master *Entity, target *Override, s Snapshot) (*Override, error) {
	const op = "override.Restore"
	o, err := NewOverride(master, target, s.IsOverride)
	if err != nil {
		return nil, err
	}
	flags := DecodeFlags(s.Flags)
	for f, v := range s.Values {
		if err := checkField(op, f); err != nil {
			return nil, err
		}
		if err := checkValue(op, f, v); err != nil {
			return nil, err
		}
		if flags[f] != SetToValue {
			return nil, calerr.TypeMismatch(op, "value for %s but its flag is %s", f, flags[f])
		}
		o.values[f] = v
	}
	for i, st := range flags {
		if _, ok := s.Values[Field(i)]; st == SetToValue && !ok {
			return nil, calerr.TypeMismatch(op, "%s is set to a value but none was stored", Field(i))
		}
	}
	o.flags = flags
	return o, nil
}

// Snapshot returns the persisted form of o.
func (o *Override) Snapshot() Snapshot {
	s := Snapshot{IsOverride: o.isOverride, Flags: o.flags.Encode(), Values: make(map[Field]any)}
	for i, st := range o.flags {
		if st == SetToValue {
			s.Values[Field(i)] = o.values[i]
		}
	}
	return s
}

func (o *Override) Master() *Entity     { return o.master }
func (o *Override) Target() *Override   { return o.target }
func (o *Override) IsOverride() bool    { return o.isOverride }
func (o *Override) State(f Field) State { return o.flags.Get(f) }
func (o *Override) Flags() Flags        { return o.flags }

// RecurrenceID returns the instance this override replaces, if any.
func (o *Override) RecurrenceID() temporal.Value {
	if o.flags[RecurrenceID] != SetToValue {
		return temporal.Value{}
	}
	v, _ := o.values[RecurrenceID].(temporal.Value)
	return v
}

// Set stores v locally and marks f SetToValue, or SetToEmpty when v is the
// empty value of its kind.
func (o *Override) Set(f Field, v any) error {
	const op = "override.Override.Set"
	if err := checkField(op, f); err != nil {
		return err
	}
	if err := checkValue(op, f, v); err != nil {
		return err
	}
	if isEmpty(v) {
		o.values[f] = nil
		o.flags[f] = SetToEmpty
		return nil
	}
	o.values[f] = v
	o.flags[f] = SetToValue
	return nil
}

// Clear marks f SetToEmpty. There is no way back to Inherited.
func (o *Override) Clear(f Field) error {
	if err := checkField("override.Override.Clear", f); err != nil {
		return err
	}
	o.values[f] = nil
	o.flags[f] = SetToEmpty
	return nil
}

// Resolve resolves f for this override against its own master.
func (o *Override) Resolve(f Field) (any, error) {
	return NewResolver(o.master).Resolve(f, o)
}

// Chain returns the literal override chain, outermost target first and o
// last. A direct override of the master has a chain of length 1.
func (o *Override) Chain() []*Override {
	var chain []*Override
	for cur := o; cur != nil; cur = cur.target {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// InstanceKey is the per-instance cache key: uid, or uid/recurrence-id for
// instance overrides.
func InstanceKey(o *Override) string {
	if o == nil {
		return ""
	}
	return pathkey.Join(o.master.uid, o.RecurrenceID().UTC())
}

// masterOnly fields define the recurrence set itself. Diff never records
// them on an instance override.
var masterOnly = map[Field]bool{
	Recurring: true,
	RRules:    true,
	ExRules:   true,
	RDates:    true,
	ExDates:   true,
}

// Diff builds a sparse override from a full instance snapshot: values equal
// to the master stay Inherited, differing values become SetToValue and
// values the master has but the instance lacks become SetToEmpty.
func Diff(master *Entity, instance map[Field]any, isOverride bool) (*Override, error) {
	const op = "override.Diff"
	o, err := NewOverride(master, nil, isOverride)
	if err != nil {
		return nil, err
	}
	for i := 0; i < NumFields; i++ {
		f := Field(i)
		if f == UID || masterOnly[f] {
			continue
		}
		iv, present := instance[f]
		if err := checkValue(op, f, iv); err != nil {
			return nil, err
		}
		mv := master.values[f]
		switch {
		case !present || isEmpty(iv):
			if !isEmpty(mv) {
				o.flags[f] = SetToEmpty
			}
		case valuesEqual(mv, iv):
			// inherited
		default:
			o.values[f] = iv
			o.flags[f] = SetToValue
		}
	}
	return o, nil
}
