package feed

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	applog "inkcal/internal/log"
)

// minSyntheticDuration is assigned to instantaneous events (DTEND == DTSTART)
// so they stay visible on the grid.
const minSyntheticDuration = time.Minute

// defaultEventDuration is assumed for timed events with no DTEND/DURATION.
const defaultEventDuration = time.Hour

// ParsedEvent is the normalized representation of a VEVENT before recurrence
// expansion.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Title string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, in the event's own timezone
	IsOverride bool
}

// Parse turns a raw feed body into normalized events. The body must be valid
// iCalendar data as a whole (*ParseError otherwise), but individually
// malformed VEVENTs are skipped with a warning so one bad entry cannot drop
// the whole feed.
func Parse(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, &ParseError{SourceID: src.ID, Err: errors.New("empty feed body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{SourceID: src.ID, Err: err}
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	skipped := 0

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			skipped++
			applog.Warn("feed entry skipped", "id", src.ID, "reason", perr)
			continue
		}
		events = append(events, ev)
	}

	applog.Info("feed parsed", "id", src.ID, "events", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		out.Title = p.Value
	} else {
		out.Title = "Untitled"
	}

	// DTSTART / DTEND via the library's timezone-aware helpers.
	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	end, _ := ve.GetEndAt()

	// All-day when DTSTART carries VALUE=DATE or has no time component.
	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	}
	out.AllDay = allDay

	// Synthesize missing or degenerate ends.
	switch {
	case end.IsZero():
		if allDay {
			end = start.Add(24 * time.Hour)
		} else {
			end = start.Add(defaultEventDuration)
		}
	case end.Equal(start):
		end = start.Add(minSyntheticDuration)
	case end.Before(start):
		return out, errors.New("DTEND before DTSTART")
	}

	out.Start = start
	out.End = end

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times and hold comma-separated lists.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID marks an overridden instance of a recurring event.
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		// Best effort; overrides with higher SEQUENCE win inside expansion.
		out.Seq = atoiDefault(seqProp.Value, 0)
	}

	return out, nil
}

func atoiDefault(s string, def int) int {
	n := 0
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// parseICSTime parses a basic ICS date or date-time string. Used for
// EXDATE/RECURRENCE-ID where full parameter context is unavailable.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// Floating date-time, e.g. 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	// Date-only, e.g. 20250101
	return time.ParseInLocation("20060102", v, time.Local)
}
