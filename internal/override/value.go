package override

import (
	"slices"

	"calcore/internal/alarm"
	"calcore/internal/calerr"
	"calcore/internal/temporal"
)

// EmptyValue returns the empty value of f's kind. It is what a field
// resolves to when an override sets it to empty.
func EmptyValue(f Field) any {
	switch f.Kind() {
	case KindText:
		return ""
	case KindInt:
		return 0
	case KindBool:
		return false
	case KindTime:
		return temporal.Value{}
	case KindTimes:
		return []temporal.Value(nil)
	case KindList:
		return []string(nil)
	case KindAlarms:
		return []alarm.Alarm(nil)
	default:
		return nil
	}
}

// checkValue verifies v has the Go type required by f. nil is accepted for
// every kind and means "empty".
func checkValue(op string, f Field, v any) error {
	if v == nil {
		return nil
	}
	ok := false
	switch f.Kind() {
	case KindText:
		_, ok = v.(string)
	case KindInt:
		_, ok = v.(int)
	case KindBool:
		_, ok = v.(bool)
	case KindTime:
		_, ok = v.(temporal.Value)
	case KindTimes:
		_, ok = v.([]temporal.Value)
	case KindList:
		_, ok = v.([]string)
	case KindAlarms:
		_, ok = v.([]alarm.Alarm)
	}
	if !ok {
		return calerr.TypeMismatch(op, "value of type %T does not fit field %s", v, f)
	}
	return nil
}

// isEmpty reports whether v is the empty value for its kind. Integers and
// booleans are never empty: zero is a legitimate value for them and only an
// explicit Clear marks them SetToEmpty.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case temporal.Value:
		return x.IsZero()
	case []temporal.Value:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case []alarm.Alarm:
		return len(x) == 0
	default:
		return false
	}
}

// normalize replaces nil with the typed empty value so resolved values
// always carry the field's Go type.
func normalize(f Field, v any) any {
	if v == nil {
		return EmptyValue(f)
	}
	return v
}

// valuesEqual compares two values of the same field.
func valuesEqual(a, b any) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	switch x := a.(type) {
	case temporal.Value:
		y, ok := b.(temporal.Value)
		return ok && x.Equal(y)
	case []temporal.Value:
		y, ok := b.([]temporal.Value)
		return ok && slices.EqualFunc(x, y, temporal.Value.Equal)
	case []string:
		y, ok := b.([]string)
		return ok && slices.Equal(x, y)
	case []alarm.Alarm:
		y, ok := b.([]alarm.Alarm)
		return ok && slices.EqualFunc(x, y, alarm.Alarm.Equal)
	default:
		return a == b
	}
}
