// Package agg merges events from all configured calendar sources into the
// two rendered day columns. Aggregation is best-effort per source: a failing
// source contributes a warning instead of dropping the whole render.
package agg

import (
	"image/color"
	"sort"
	"strings"
	"time"

	"inkcal/internal/feed"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
)

// SourceInput is one source's raw feed text (or its fetch failure), tagged
// with the presentation attributes resolved from configuration.
type SourceInput struct {
	ID      string
	Name    string
	Color   color.NRGBA
	Exclude []string

	Body []byte
	// Err is the upstream fetch error, if any. A set Err means Body is
	// absent and the source is counted as failed.
	Err error
}

// Warning records a source that contributed nothing to the result.
type Warning struct {
	SourceID string
	Err      error
}

// Result holds the merged, sorted events for both columns. Both slices are
// always non-nil; an empty calendar is a valid, renderable state.
type Result struct {
	Today    []model.Event
	Tomorrow []model.Event
	Warnings []Warning
}

// HealthySources returns how many of the given inputs contributed events,
// for status reporting.
func (r Result) HealthySources(total int) int {
	return total - len(r.Warnings)
}

// Aggregate parses and expands every source's feed for the [today, today+2d)
// window, tags events with their source color, deduplicates, splits them into
// the today/tomorrow columns and sorts each column by start time, ties broken
// by configured source order.
func Aggregate(inputs []SourceInput, today time.Time, loc *time.Location) Result {
	res := Result{
		Today:    []model.Event{},
		Tomorrow: []model.Event{},
	}

	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	tomorrowStart := dayStart.AddDate(0, 0, 1)
	rangeEnd := dayStart.AddDate(0, 0, 2)

	seen := make(map[string]struct{})

	for idx, in := range inputs {
		if in.Err != nil {
			applog.Warn("source unavailable", "id", in.ID, "reason", in.Err)
			res.Warnings = append(res.Warnings, Warning{SourceID: in.ID, Err: in.Err})
			continue
		}

		src := feed.Source{ID: in.ID}
		parsed, err := feed.Parse(src, in.Body)
		if err != nil {
			applog.Warn("source parse failed", "id", in.ID, "reason", err)
			res.Warnings = append(res.Warnings, Warning{SourceID: in.ID, Err: err})
			continue
		}

		events, err := feed.Expand(parsed, feed.ExpandConfig{
			DisplayLocation: loc,
			RangeStart:      dayStart,
			RangeEnd:        rangeEnd,
		})
		if err != nil {
			applog.Warn("source expansion failed", "id", in.ID, "reason", err)
			res.Warnings = append(res.Warnings, Warning{SourceID: in.ID, Err: err})
			continue
		}

		for _, ev := range events {
			if excluded(ev.Title, in.Exclude) {
				continue
			}

			key := dedupeKey(ev)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ev.SourceIndex = idx
			ev.Color = in.Color

			// An event overlapping today lands in the today column even if
			// it spills into tomorrow; only events entirely after midnight
			// go to the tomorrow column.
			switch {
			case ev.Overlaps(dayStart, tomorrowStart):
				res.Today = append(res.Today, ev)
			case ev.Overlaps(tomorrowStart, rangeEnd):
				res.Tomorrow = append(res.Tomorrow, ev)
			}
		}
	}

	sortColumn(res.Today)
	sortColumn(res.Tomorrow)

	return res
}

// sortColumn orders events by start ascending; equal starts keep configured
// source order so repeated runs render identically.
func sortColumn(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].SourceIndex < events[j].SourceIndex
	})
}

func dedupeKey(ev model.Event) string {
	return ev.SourceID + "\x00" + ev.UID + "\x00" + ev.Start.UTC().Format(time.RFC3339)
}

func excluded(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
