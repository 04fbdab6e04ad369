package override

// State is the per-field presence of an override.
type State uint8

const (
	// Inherited is the initial state: the value comes from the master.
	Inherited State = iota
	// SetToValue means the override stores its own, non-empty value.
	SetToValue
	// SetToEmpty means the override explicitly has no value.
	SetToEmpty
)

const (
	inheritedChar  = '-'
	setToValueChar = 'V'
	setToEmptyChar = 'E'
)

func (s State) String() string {
	switch s {
	case Inherited:
		return "inherited"
	case SetToValue:
		return "set"
	case SetToEmpty:
		return "empty"
	default:
		return "invalid"
	}
}

// Flags holds one State per tracked field.
type Flags [NumFields]State

// Get returns the state of f; out-of-range fields read as Inherited.
func (fl *Flags) Get(f Field) State {
	if !f.Valid() {
		return Inherited
	}
	return fl[f]
}

// Touched reports whether any field left the Inherited state.
func (fl *Flags) Touched() bool {
	for _, s := range fl {
		if s != Inherited {
			return true
		}
	}
	return false
}

// Encode returns the compact persisted form, one character per field.
func (fl *Flags) Encode() string {
	b := make([]byte, NumFields)
	for i, s := range fl {
		switch s {
		case SetToValue:
			b[i] = setToValueChar
		case SetToEmpty:
			b[i] = setToEmptyChar
		default:
			b[i] = inheritedChar
		}
	}
	return string(b)
}

// DecodeFlags parses the persisted form. Short input leaves the trailing
// fields Inherited, unknown characters decode as Inherited and anything past
// the enumeration is ignored.
func DecodeFlags(s string) Flags {
	var fl Flags
	for i := 0; i < len(s) && i < NumFields; i++ {
		switch s[i] {
		case setToValueChar:
			fl[i] = SetToValue
		case setToEmptyChar:
			fl[i] = SetToEmpty
		}
	}
	return fl
}
