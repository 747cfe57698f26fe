// Package types contains nullable option types used by the frame configuration.
// They follow the gopkg.in/guregu/null.v3 conventions: a Valid flag plus
// text and JSON (un)marshalling.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Duration is a time.Duration written as a duration string ("1.5s").
// Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses either a Go duration string ("1.5s") or a plain number
// of milliseconds ("1500").
func ParseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return millis(ms)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid duration value", s)
	}
	return d, nil
}

func millis(ms float64) (time.Duration, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, fmt.Errorf("%v is not a valid duration value", ms)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// NullDuration is a Duration that may be unset.
type NullDuration struct {
	Duration
	Valid bool
}

// NewNullDuration returns a NullDuration of d.
func NewNullDuration(d time.Duration, valid bool) NullDuration {
	return NullDuration{Duration: Duration(d), Valid: valid}
}

// NullDurationFrom returns a set NullDuration of d.
func NullDurationFrom(d time.Duration) NullDuration {
	return NewNullDuration(d, true)
}

// UnmarshalText sets d from text. Empty text unsets it.
func (d *NullDuration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = NullDuration{}
		return nil
	}
	return d.set(d.Duration.UnmarshalText(text))
}

// UnmarshalJSON sets d from data. null unsets it.
func (d *NullDuration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = NullDuration{}
		return nil
	}
	return d.set(d.Duration.UnmarshalJSON(data))
}

func (d *NullDuration) set(err error) error {
	d.Valid = err == nil
	return err
}

// MarshalJSON writes an unset d as null.
func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return d.Duration.MarshalJSON()
}

// TimeDuration returns d, or zero if it is unset.
func (d NullDuration) TimeDuration() time.Duration {
	if !d.Valid {
		return 0
	}
	return time.Duration(d.Duration)
}

// GetDurationValue converts a timeout given by a script to a
// time.Duration. Numbers are milliseconds; strings are parsed with
// ParseDuration.
func GetDurationValue(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return ParseDuration(d)
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int32:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case float32:
		return millis(float64(d))
	case float64:
		return millis(d)
	default:
		return 0, fmt.Errorf("unable to use type %T as a duration value", v)
	}
}
