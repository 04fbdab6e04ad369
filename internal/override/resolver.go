package override

import (
	"calcore/internal/alarm"
	"calcore/internal/calerr"
	"calcore/internal/temporal"
)

// Resolver returns effective field values for the instances of one master.
//
// Every override stores a direct master handle, so resolution never walks
// the target chain: it is one flag lookup plus one field read.
type Resolver struct {
	master *Entity
}

func NewResolver(master *Entity) *Resolver {
	return &Resolver{master: master}
}

func (r *Resolver) Master() *Entity { return r.master }

// Resolve returns the effective value of f for override o (nil means the
// master itself):
//
//	Inherited  -> master value
//	SetToEmpty -> empty value of the field kind, never the master value
//	SetToValue -> the override's own value
func (r *Resolver) Resolve(f Field, o *Override) (any, error) {
	const op = "override.Resolve"
	if err := checkField(op, f); err != nil {
		return nil, err
	}
	if r.master == nil {
		return nil, calerr.BadOverrideChain(op, "resolver has no master")
	}
	if o == nil {
		return normalize(f, r.master.values[f]), nil
	}
	if o.master != r.master {
		return nil, calerr.BadOverrideChain(op, "override belongs to %q, resolver to %q", o.master.uid, r.master.uid)
	}

	switch o.flags[f] {
	case SetToEmpty:
		return EmptyValue(f), nil
	case SetToValue:
		return normalize(f, o.values[f]), nil
	default:
		return normalize(f, r.master.values[f]), nil
	}
}

// Text resolves a KindText field.
func (r *Resolver) Text(f Field, o *Override) (string, error) {
	v, err := r.typed("override.Resolver.Text", f, KindText, o)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Int resolves a KindInt field.
func (r *Resolver) Int(f Field, o *Override) (int, error) {
	v, err := r.typed("override.Resolver.Int", f, KindInt, o)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Bool resolves a KindBool field.
func (r *Resolver) Bool(f Field, o *Override) (bool, error) {
	v, err := r.typed("override.Resolver.Bool", f, KindBool, o)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Time resolves a KindTime field.
func (r *Resolver) Time(f Field, o *Override) (temporal.Value, error) {
	v, err := r.typed("override.Resolver.Time", f, KindTime, o)
	if err != nil {
		return temporal.Value{}, err
	}
	return v.(temporal.Value), nil
}

// Times resolves a KindTimes field.
func (r *Resolver) Times(f Field, o *Override) ([]temporal.Value, error) {
	v, err := r.typed("override.Resolver.Times", f, KindTimes, o)
	if err != nil {
		return nil, err
	}
	return v.([]temporal.Value), nil
}

// List resolves a KindList field.
func (r *Resolver) List(f Field, o *Override) ([]string, error) {
	v, err := r.typed("override.Resolver.List", f, KindList, o)
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Alarms resolves the alarms field.
func (r *Resolver) Alarms(o *Override) ([]alarm.Alarm, error) {
	v, err := r.typed("override.Resolver.Alarms", Alarms, KindAlarms, o)
	if err != nil {
		return nil, err
	}
	return v.([]alarm.Alarm), nil
}

func (r *Resolver) typed(op string, f Field, want Kind, o *Override) (any, error) {
	if err := checkField(op, f); err != nil {
		return nil, err
	}
	if f.Kind() != want {
		return nil, calerr.TypeMismatch(op, "field %s is not of the requested kind", f)
	}
	return r.Resolve(f, o)
}
