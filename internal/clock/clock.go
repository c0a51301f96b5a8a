// Package clock provides the canonical clock. All wall-clock projections
// (availability windows, day labels) happen in its location.
package clock

import (
	"fmt"
	"time"
)

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// System returns the wall clock in the named IANA location.
func System(timezone string) (Clock, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", timezone, err)
	}
	return systemClock{loc: loc}, nil
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// Fixed is a settable clock for tests and simulations.
type Fixed struct {
	T   time.Time
	Loc *time.Location
}

func (f *Fixed) Now() time.Time {
	return f.T.In(f.Location())
}

func (f *Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
