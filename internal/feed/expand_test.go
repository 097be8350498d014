package feed

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestExpandSingleInsideWindow(t *testing.T) {
	ev := ParsedEvent{
		Source: testSource,
		UID:    "single",
		Title:  "Standup",
		Start:  day(2025, 5, 6, 9),
		End:    day(2025, 5, 6, 10),
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 8, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(got))
	}
	if got[0].Title != "Standup" || !got[0].Start.Equal(ev.Start) {
		t.Errorf("unexpected occurrence: %+v", got[0])
	}
}

func TestExpandDiscardsOutsideWindow(t *testing.T) {
	ev := ParsedEvent{
		Source: testSource,
		UID:    "outside",
		Start:  day(2025, 5, 1, 9),
		End:    day(2025, 5, 1, 10),
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 8, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no occurrences, got %+v", got)
	}
}

func TestExpandDailyRecurrence(t *testing.T) {
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "daily",
		Title:    "Breakfast",
		Start:    day(2025, 5, 1, 8),
		End:      day(2025, 5, 1, 8).Add(30 * time.Minute),
		RawRRule: "FREQ=DAILY",
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 8, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// Window covers May 6 and May 7.
	if len(got) != 2 {
		t.Fatalf("got %d occurrences, want 2: %+v", len(got), got)
	}
	if !got[0].Start.Equal(day(2025, 5, 6, 8)) || !got[1].Start.Equal(day(2025, 5, 7, 8)) {
		t.Errorf("unexpected occurrence times: %v, %v", got[0].Start, got[1].Start)
	}
	for _, occ := range got {
		if occ.Duration() != 30*time.Minute {
			t.Errorf("duration not preserved: %v", occ.Duration())
		}
	}
}

func TestExpandHonorsExdate(t *testing.T) {
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "daily-ex",
		Start:    day(2025, 5, 1, 8),
		End:      day(2025, 5, 1, 9),
		RawRRule: "FREQ=DAILY",
		ExDates:  []time.Time{day(2025, 5, 6, 8)},
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 8, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d occurrences, want 1 (May 6 excluded): %+v", len(got), got)
	}
	if !got[0].Start.Equal(day(2025, 5, 7, 8)) {
		t.Errorf("surviving occurrence = %v, want May 7 08:00", got[0].Start)
	}
}

func TestExpandAppliesOverride(t *testing.T) {
	rid := day(2025, 5, 6, 8)
	base := ParsedEvent{
		Source:   testSource,
		UID:      "ov",
		Title:    "Sync",
		Start:    day(2025, 5, 1, 8),
		End:      day(2025, 5, 1, 9),
		RawRRule: "FREQ=DAILY",
	}
	override := ParsedEvent{
		Source:     testSource,
		UID:        "ov",
		Title:      "Sync (moved)",
		Start:      day(2025, 5, 6, 14),
		End:        day(2025, 5, 6, 15),
		Recurrence: &rid,
		IsOverride: true,
	}

	got, err := Expand([]ParsedEvent{base, override}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 7, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d occurrences, want 1: %+v", len(got), got)
	}
	if got[0].Title != "Sync (moved)" || !got[0].Start.Equal(day(2025, 5, 6, 14)) {
		t.Errorf("override not applied: %+v", got[0])
	}
}

func TestExpandConvertsToDisplayTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	ev := ParsedEvent{
		Source: testSource,
		UID:    "tz",
		Start:  day(2025, 5, 6, 9), // 09:00 UTC = 11:00 CEST
		End:    day(2025, 5, 6, 10),
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: berlin,
		RangeStart:      day(2025, 5, 6, 0),
		RangeEnd:        day(2025, 5, 7, 0),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got[0].Start.Location() != berlin {
		t.Errorf("location = %v, want Europe/Berlin", got[0].Start.Location())
	}
	if got[0].Start.Hour() != 11 {
		t.Errorf("local hour = %d, want 11", got[0].Start.Hour())
	}
}

func TestExpandCapBoundsPathologicalFeeds(t *testing.T) {
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "minutely",
		Start:    day(2025, 5, 1, 0),
		End:      day(2025, 5, 1, 0).Add(time.Minute),
		RawRRule: "FREQ=MINUTELY",
	}

	got, err := Expand([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             day(2025, 5, 6, 0),
		RangeEnd:               day(2025, 5, 8, 0),
		MaxOccurrencesPerEvent: 50,
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) > 50 {
		t.Fatalf("cap not enforced: %d occurrences", len(got))
	}
}
