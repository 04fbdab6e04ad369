// Package calerr defines the error taxonomy shared by the temporal,
// override and alias packages.
package calerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a core failure.
type Kind string

const (
	// KindInvalidDate is a malformed or zone/date-type inconsistent literal.
	KindInvalidDate Kind = "invalid_date"
	// KindTypeMismatch is a date-only operation on a date-time (or the
	// reverse), or a field value of the wrong shape.
	KindTypeMismatch Kind = "type_mismatch"
	// KindAliasCycle means an alias chain revisited a collection.
	KindAliasCycle Kind = "alias_cycle"
	// KindUnknownField is a field index outside the enumeration.
	KindUnknownField Kind = "unknown_field"
	// KindBadOverrideChain means an override's master is not a root entity
	// of the same recurrence set.
	KindBadOverrideChain Kind = "bad_override_chain"
)

// Sentinels for errors.Is.
var (
	ErrInvalidDate      = &Error{Kind: KindInvalidDate}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrAliasCycle       = &Error{Kind: KindAliasCycle}
	ErrUnknownField     = &Error{Kind: KindUnknownField}
	ErrBadOverrideChain = &Error{Kind: KindBadOverrideChain}
)

// Error is a structured core error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	parts := []string{string(e.Kind)}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "{"+strings.Join(kv, ", ")+"}")
	}
	if e.Cause != nil {
		parts = append(parts, "cause="+e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so callers can compare against
// the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With attaches a context key/value and returns e.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func InvalidDate(op, format string, args ...any) *Error {
	return newError(KindInvalidDate, op, format, args...)
}

func TypeMismatch(op, format string, args ...any) *Error {
	return newError(KindTypeMismatch, op, format, args...)
}

func AliasCycle(op, format string, args ...any) *Error {
	return newError(KindAliasCycle, op, format, args...)
}

func UnknownField(op, format string, args ...any) *Error {
	return newError(KindUnknownField, op, format, args...)
}

func BadOverrideChain(op, format string, args ...any) *Error {
	return newError(KindBadOverrideChain, op, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
