// Package temporal provides the tagged date/time union used across the
// canonical calendar model. A Value is exactly one of three kinds:
//
//   - PlainDate: a calendar date with no time or zone (all-day events)
//   - Instant: an absolute UTC timestamp
//   - Zoned: a wall-clock time bound to an IANA time zone
//
// Cross-kind comparison always goes through an explicit conversion to a
// common instant using a caller-supplied fallback time zone.
package temporal

import (
	"sort"
	"strings"
	"time"

	"calsync_server/pkg/apperr"
)

// Kind discriminates the three value variants.
type Kind int

const (
	KindPlainDate Kind = iota
	KindInstant
	KindZoned
)

func (k Kind) String() string {
	switch k {
	case KindPlainDate:
		return "plain-date"
	case KindInstant:
		return "instant"
	case KindZoned:
		return "zoned-date-time"
	default:
		return "unknown"
	}
}

const (
	plainDateLayout = "2006-01-02"
	wallClockLayout = "2006-01-02T15:04:05"
)

// Value is a closed tagged union over the three date/time kinds.
// The zero Value is invalid; construct through the New* functions or Parse.
type Value struct {
	kind Kind
	t    time.Time // PlainDate: midnight UTC; Instant: UTC; Zoned: in its location
	zone string    // IANA id, Zoned only
}

// NewPlainDate builds a calendar date. Out-of-range fields fail with a
// RangeError rather than normalizing (month 13 is an error, not January).
func NewPlainDate(year int, month time.Month, day int) (Value, error) {
	if month < time.January || month > time.December {
		return Value{}, apperr.RangeError("month", int(month))
	}
	if day < 1 || day > 31 {
		return Value{}, apperr.RangeError("day", day)
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return Value{}, apperr.RangeError("day", day)
	}
	return Value{kind: KindPlainDate, t: t}, nil
}

// NewInstant builds an absolute timestamp. The input's location is
// irrelevant; the value is normalized to UTC.
func NewInstant(t time.Time) Value {
	return Value{kind: KindInstant, t: t.UTC()}
}

// NewZoned binds the given moment to an IANA time zone.
func NewZoned(t time.Time, zone string) (Value, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Value{}, apperr.ParseError(zone, "unknown time zone")
	}
	return Value{kind: KindZoned, t: t.In(loc), zone: zone}, nil
}

// NewZonedWall builds a zoned value from explicit wall-clock fields
// interpreted in the given zone.
func NewZonedWall(year int, month time.Month, day, hour, min, sec int, zone string) (Value, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Value{}, apperr.ParseError(zone, "unknown time zone")
	}
	return Value{
		kind: KindZoned,
		t:    time.Date(year, month, day, hour, min, sec, 0, loc),
		zone: zone,
	}, nil
}

// Parse reads one of three ISO forms and picks the variant from the shape:
//
//	2025-01-06                              PlainDate
//	2025-01-06T14:00:00Z                    Instant (RFC 3339)
//	2025-01-06T09:00:00-05:00[America/New_York]  Zoned (RFC 9557)
func Parse(s string) (Value, error) {
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Value{}, apperr.ParseError(s, "unterminated time zone annotation")
		}
		zone := s[i+1 : len(s)-1]
		return parseZoned(s[:i], zone)
	}

	if !strings.ContainsRune(s, 'T') {
		t, err := time.Parse(plainDateLayout, s)
		if err != nil {
			return Value{}, apperr.ParseError(s, "not a calendar date")
		}
		return Value{kind: KindPlainDate, t: t}, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Value{}, apperr.ParseError(s, "not an RFC 3339 timestamp")
	}
	return NewInstant(t), nil
}

func parseZoned(dateTime, zone string) (Value, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Value{}, apperr.ParseError(zone, "unknown time zone")
	}

	// With an explicit offset the string pins an absolute moment.
	if t, err := time.Parse(time.RFC3339, dateTime); err == nil {
		return Value{kind: KindZoned, t: t.In(loc), zone: zone}, nil
	}

	// Without one it is a wall-clock time in the annotated zone.
	t, err := time.ParseInLocation(wallClockLayout, dateTime, loc)
	if err != nil {
		return Value{}, apperr.ParseError(dateTime, "not a zoned date-time")
	}
	return Value{kind: KindZoned, t: t, zone: zone}, nil
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Zone returns the IANA zone id for Zoned values, "" otherwise.
func (v Value) Zone() string { return v.zone }

// Time exposes the underlying time.Time. For PlainDate this is midnight
// UTC of the date and must not be treated as an absolute moment.
func (v Value) Time() time.Time { return v.t }

// IsZero reports whether v is the invalid zero Value.
func (v Value) IsZero() bool { return v.t.IsZero() && v.zone == "" && v.kind == KindPlainDate }

// Date returns the calendar fields of the value.
func (v Value) Date() (year int, month time.Month, day int) {
	return v.t.Date()
}

// ToInstant converts the value to an absolute UTC moment. PlainDate is
// interpreted as midnight in timeZone; Zoned carries its own zone and
// ignores the parameter; Instant passes through.
func (v Value) ToInstant(timeZone string) (time.Time, error) {
	switch v.kind {
	case KindInstant:
		return v.t, nil
	case KindZoned:
		return v.t.UTC(), nil
	case KindPlainDate:
		loc, err := time.LoadLocation(timeZone)
		if err != nil {
			return time.Time{}, apperr.ParseError(timeZone, "unknown time zone")
		}
		y, m, d := v.t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC(), nil
	default:
		return time.Time{}, apperr.ParseError(v.String(), "unknown temporal kind")
	}
}

// Compare orders a and b by their instants, converting both with the
// supplied fallback zone. Callers must pass the authoritative default
// zone consistently: comparing a PlainDate against a Zoned value under a
// different zone can change the ordering.
func Compare(a, b Value, timeZone string) (int, error) {
	ai, err := a.ToInstant(timeZone)
	if err != nil {
		return 0, err
	}
	bi, err := b.ToInstant(timeZone)
	if err != nil {
		return 0, err
	}
	switch {
	case ai.Before(bi):
		return -1, nil
	case ai.After(bi):
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports strict same-variant equality. Cross-variant comparison is
// deliberately false: callers that want instant-level equality across
// variants must convert explicitly via ToInstant.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindPlainDate:
		vy, vm, vd := v.t.Date()
		oy, om, od := other.t.Date()
		return vy == oy && vm == om && vd == od
	default:
		return v.t.Equal(other.t)
	}
}

// Sort stable-sorts values by instant under the given fallback zone.
func Sort(values []Value, timeZone string) error {
	var sortErr error
	sort.SliceStable(values, func(i, j int) bool {
		c, err := Compare(values[i], values[j], timeZone)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	return sortErr
}

// AddDays returns the value shifted by n calendar days, preserving kind.
func (v Value) AddDays(n int) Value {
	shifted := v
	shifted.t = v.t.AddDate(0, 0, n)
	return shifted
}

// String renders the canonical ISO form for the variant, matching what
// Parse accepts.
func (v Value) String() string {
	switch v.kind {
	case KindPlainDate:
		return v.t.Format(plainDateLayout)
	case KindInstant:
		return v.t.Format(time.RFC3339)
	case KindZoned:
		return v.t.Format(time.RFC3339) + "[" + v.zone + "]"
	default:
		return ""
	}
}

// MarshalJSON encodes the value as its canonical ISO string.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON decodes any of the three ISO forms.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*v = Value{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
