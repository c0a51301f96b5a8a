// Package overlap decides whether half-open time intervals conflict.
package overlap

import (
	"time"

	"github.com/hackgods/consult-scheduling/internal/apperr"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate rejects empty or inverted intervals.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return apperr.Validation("overlap", "start and end are required")
	}
	if !iv.Start.Before(iv.End) {
		return apperr.Validation("overlap", "start must be before end")
	}
	return nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether instant t lies in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Conflicts reports whether a and b share any instant. Malformed input is
// rejected.
func Conflicts(a, b Interval) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}
	if err := b.Validate(); err != nil {
		return false, err
	}
	return intersects(a, b), nil
}

func intersects(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// ConflictsAny reports whether candidate conflicts with any of existing.
// Malformed input is rejected before any comparison.
func ConflictsAny(candidate Interval, existing []Interval) (bool, error) {
	if err := candidate.Validate(); err != nil {
		return false, err
	}
	for _, iv := range existing {
		if err := iv.Validate(); err != nil {
			return false, err
		}
		if intersects(candidate, iv) {
			return true, nil
		}
	}
	return false, nil
}

// Within reports whether inner lies entirely inside outer.
func Within(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}
