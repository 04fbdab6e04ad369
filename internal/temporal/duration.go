package temporal

import (
	"strconv"
	"strings"
	"time"

	"calcore/internal/calerr"
)

// Duration is an RFC5545 DURATION value. Week and day components are
// nominal (calendar days in the zone of the value they are added to), the
// time components are exact.
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// ParseDuration parses "[+-]P[nW][nD][T[nH][nM][nS]]".
func ParseDuration(s string) (Duration, error) {
	const op = "temporal.ParseDuration"

	var d Duration
	in := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(in, "-"):
		d.Negative = true
		in = in[1:]
	case strings.HasPrefix(in, "+"):
		in = in[1:]
	}
	if !strings.HasPrefix(in, "P") || len(in) < 3 {
		return Duration{}, calerr.InvalidDate(op, "malformed duration %q", s)
	}
	in = in[1:]

	inTime := false
	seen := false
	timeSeen := false
	num := ""
	for _, r := range in {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return Duration{}, calerr.InvalidDate(op, "malformed duration %q", s)
			}
			inTime = true
			continue
		}

		if num == "" {
			return Duration{}, calerr.InvalidDate(op, "missing number in duration %q", s)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return Duration{}, calerr.InvalidDate(op, "bad number in duration %q", s)
		}
		num = ""
		seen = true
		if inTime {
			timeSeen = true
		}

		switch {
		case r == 'W' && !inTime:
			d.Weeks = n
		case r == 'D' && !inTime:
			d.Days = n
		case r == 'H' && inTime:
			d.Hours = n
		case r == 'M' && inTime:
			d.Minutes = n
		case r == 'S' && inTime:
			d.Seconds = n
		default:
			return Duration{}, calerr.InvalidDate(op, "unexpected designator %q in duration %q", r, s)
		}
	}
	if num != "" || !seen || (inTime && !timeSeen) {
		return Duration{}, calerr.InvalidDate(op, "truncated duration %q", s)
	}
	return d, nil
}

// MustParseDuration is ParseDuration for literals known to be valid.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// HasTime reports whether the duration carries an hour/minute/second part.
func (d Duration) HasTime() bool {
	return d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0
}

func (d Duration) IsZero() bool {
	return d.Weeks == 0 && d.Days == 0 && !d.HasTime()
}

// Neg returns d with the sign flipped.
func (d Duration) Neg() Duration {
	d.Negative = !d.Negative
	return d
}

// AddTo adds d to t: days via AddDate in t's location, then the exact part.
func (d Duration) AddTo(t time.Time) time.Time {
	sign := 1
	if d.Negative {
		sign = -1
	}
	if days := d.Weeks*7 + d.Days; days != 0 {
		t = t.AddDate(0, 0, sign*days)
	}
	exact := time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
	return t.Add(time.Duration(sign) * exact)
}

// Scale multiplies every component by n (used for alarm repeats).
func (d Duration) Scale(n int) Duration {
	return Duration{
		Negative: d.Negative,
		Weeks:    d.Weeks * n,
		Days:     d.Days * n,
		Hours:    d.Hours * n,
		Minutes:  d.Minutes * n,
		Seconds:  d.Seconds * n,
	}
}

func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.IsZero() {
		b.WriteString("T0S")
		return b.String()
	}
	if d.Weeks != 0 {
		b.WriteString(strconv.Itoa(d.Weeks) + "W")
	}
	if d.Days != 0 {
		b.WriteString(strconv.Itoa(d.Days) + "D")
	}
	if d.HasTime() {
		b.WriteByte('T')
		if d.Hours != 0 {
			b.WriteString(strconv.Itoa(d.Hours) + "H")
		}
		if d.Minutes != 0 {
			b.WriteString(strconv.Itoa(d.Minutes) + "M")
		}
		if d.Seconds != 0 {
			b.WriteString(strconv.Itoa(d.Seconds) + "S")
		}
	}
	return b.String()
}
