package feed

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	applog "inkcal/internal/log"
	"inkcal/internal/model"
)

// defaultMaxOccurrencesPerEvent caps recurrence expansion per event. With a
// two-day window this is generous; it exists to bound memory against
// pathological feeds.
const defaultMaxOccurrencesPerEvent = 200

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted into.
	// Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the expansion window. Occurrences entirely
	// outside it are discarded early.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent overrides the default safety cap when > 0.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed events into concrete occurrences inside the window:
// single events pass through, RRULEs are expanded with EXDATE removal and
// RECURRENCE-ID overrides applied, and every result is normalized into the
// display timezone.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uidOrder := make([]string, 0, len(events))

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uidOrder = append(uidOrder, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0)

	// Iterate in first-seen order so expansion output is deterministic.
	for _, uid := range uidOrder {
		overrides := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, overrides, cfg)
			if hitCap {
				applog.Warn("recurrence expansion truncated", "id", ev.Source.ID, "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}

	return out, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.RawRRule == "" {
		return expandSingle(ev, overrides, cfg), false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if !ev.Start.Before(cfg.RangeEnd) || !ev.End.After(cfg.RangeStart) {
		return nil
	}

	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end = o.Start, o.End
		ev = o
	}
	return []model.Event{makeEvent(ev, start, end, cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		applog.Warn("invalid RRULE, treating as single event", "id", ev.Source.ID, "uid", ev.UID, "reason", err)
		return expandSingle(ev, overrides, cfg), false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Between() works in the event's own timezone; widen the left edge by the
	// event duration so an instance straddling RangeStart is still found.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(dur)
		}

		if !occStart.Before(cfg.RangeEnd) || !occEnd.After(cfg.RangeStart) {
			continue
		}

		instEv := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			instEv = o
			occStart, occEnd = o.Start, o.End
		}
		out = append(out, makeEvent(instEv, occStart, occEnd, cfg.DisplayLocation))
	}

	return out, hitCap
}

func findOverrideForStart(overrides []ParsedEvent, baseStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(baseStart.Location()).Equal(baseStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeEvent(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Event {
	return model.Event{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Title:    ev.Title,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
		End:      end.In(loc),
	}
}
