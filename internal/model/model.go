package model

import (
	"image/color"
	"time"
)

// Event is a single concrete calendar entry, normalized into the display
// timezone and tagged with its originating source. Recurring events have been
// expanded; each Event is one occurrence.
//
// Invariant: End is strictly after Start. Entries that would violate this are
// dropped during parsing (instantaneous entries get a synthetic minimum
// duration instead).
type Event struct {
	SourceID string
	// SourceIndex is the position of the owning source in the configured
	// calendar list. It is the sort tie-break so repeated runs render
	// identically.
	SourceIndex int

	UID   string
	Title string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time

	// Color is resolved from the owning source's configured color.
	Color color.NRGBA
}

// Duration returns the event's length.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event intersects the half-open interval
// [from, to).
func (e Event) Overlaps(from, to time.Time) bool {
	return e.Start.Before(to) && e.End.After(from)
}
