// Package timespec parses the compact duration strings used in the configuration
// file, such as "7d" for seven days or "4h" for four hours.
package timespec

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Unit is the single-character unit tag of a Duration.
type Unit byte

const (
	// Hours is the "h" unit.
	Hours Unit = 'h'
	// Days is the "d" unit.
	Days Unit = 'd'
)

// Std returns the length of one unit.
func (u Unit) Std() time.Duration {
	switch u {
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (u Unit) String() string {
	return string(rune(u))
}

var (
	// ErrInvalidTimeUnit is returned when the trailing character is not 'h' or 'd'.
	ErrInvalidTimeUnit = errors.New("invalid time unit")
	// ErrInvalidTimeMagnitude is returned when the part before the unit is not a non-negative integer.
	ErrInvalidTimeMagnitude = errors.New("invalid time magnitude")
)

// Duration is an immutable span of time made of an integer magnitude and a unit.
type Duration struct {
	magnitude int
	unit      Unit
}

// New builds a Duration directly. It panics on an unknown unit or a negative
// magnitude, so it is meant for constants and tests; use Parse for input.
func New(magnitude int, unit Unit) Duration {
	if unit != Hours && unit != Days {
		panic(fmt.Sprintf("timespec: unknown unit %q", rune(unit)))
	}
	if magnitude < 0 {
		panic("timespec: negative magnitude")
	}
	return Duration{magnitude: magnitude, unit: unit}
}

// Parse converts a string of the form <integer><unit> into a Duration, where
// unit is exactly one character, 'h' or 'd'. The integer must consist of
// ASCII digits only; signs and whitespace are rejected.
func Parse(s string) (Duration, error) {
	if s == "" {
		return Duration{}, fmt.Errorf("%w: empty value", ErrInvalidTimeUnit)
	}

	unit := Unit(s[len(s)-1])
	if unit != Hours && unit != Days {
		return Duration{}, fmt.Errorf("%w: %q must end in 'h' or 'd'", ErrInvalidTimeUnit, s)
	}

	digits := s[:len(s)-1]
	if digits == "" {
		return Duration{}, fmt.Errorf("%w: %q has no number before the unit", ErrInvalidTimeMagnitude, s)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Duration{}, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidTimeMagnitude, digits)
		}
	}

	magnitude, err := strconv.Atoi(digits)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimeMagnitude, digits, err)
	}
	// Reject values whose length in nanoseconds would overflow time.Duration.
	if int64(magnitude) > int64(time.Duration(1<<63-1)/unit.Std()) {
		return Duration{}, fmt.Errorf("%w: %q is too large", ErrInvalidTimeMagnitude, digits)
	}

	return Duration{magnitude: magnitude, unit: unit}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Magnitude returns the integer part.
func (d Duration) Magnitude() int { return d.magnitude }

// Unit returns the unit tag.
func (d Duration) Unit() Unit { return d.unit }

// IsZero reports whether the duration has a zero magnitude or was never set.
func (d Duration) IsZero() bool { return d.magnitude == 0 }

// Std converts the duration into a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d.magnitude) * d.unit.Std()
}

// String formats the duration in the same form Parse accepts.
func (d Duration) String() string {
	if d.unit == 0 {
		return "0d"
	}
	return strconv.Itoa(d.magnitude) + d.unit.String()
}
