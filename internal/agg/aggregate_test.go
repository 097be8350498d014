package agg

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"testing"
	"time"
)

var (
	colorA = color.NRGBA{R: 0xFE, G: 0xE2, B: 0x9B, A: 0xFF}
	colorB = color.NRGBA{R: 0xCD, G: 0xE7, B: 0xF5, A: 0xFF}
)

// icsBody builds a minimal single-calendar feed with the given VEVENT bodies.
func icsBody(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n")
	for _, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(ev)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func vevent(uid, title string, start, end time.Time) string {
	const layout = "20060102T150405Z"
	return fmt.Sprintf("UID:%s\r\nSUMMARY:%s\r\nDTSTART:%s\r\nDTEND:%s\r\n",
		uid, title, start.UTC().Format(layout), end.UTC().Format(layout))
}

var today = time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)

func at(dayOffset, hour, min int) time.Time {
	return today.AddDate(0, 0, dayOffset).Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestAggregateSplitsColumns(t *testing.T) {
	inputs := []SourceInput{{
		ID:    "work",
		Color: colorA,
		Body: icsBody(
			vevent("t1", "Standup", at(0, 9, 0), at(0, 10, 0)),
			vevent("t2", "Kickoff", at(1, 10, 0), at(1, 11, 0)),
			vevent("t3", "Next week", at(7, 9, 0), at(7, 10, 0)),
		),
	}}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if len(res.Today) != 1 || res.Today[0].Title != "Standup" {
		t.Errorf("Today = %+v, want only Standup", res.Today)
	}
	if len(res.Tomorrow) != 1 || res.Tomorrow[0].Title != "Kickoff" {
		t.Errorf("Tomorrow = %+v, want only Kickoff", res.Tomorrow)
	}
	if res.Today[0].Color != colorA {
		t.Errorf("event not tagged with source color: %+v", res.Today[0].Color)
	}
}

func TestAggregateSortsWithSourceOrderTieBreak(t *testing.T) {
	start := at(0, 14, 0)
	end := at(0, 15, 0)
	inputs := []SourceInput{
		{ID: "alpha", Color: colorA, Body: icsBody(
			vevent("a1", "Later", at(0, 16, 0), at(0, 17, 0)),
			vevent("a2", "Tie A", start, end),
		)},
		{ID: "beta", Color: colorB, Body: icsBody(
			vevent("b1", "Tie B", start, end),
		)},
	}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Today) != 3 {
		t.Fatalf("Today len = %d, want 3", len(res.Today))
	}
	for i := 1; i < len(res.Today); i++ {
		if res.Today[i].Start.Before(res.Today[i-1].Start) {
			t.Fatalf("not sorted by start: %v after %v", res.Today[i].Start, res.Today[i-1].Start)
		}
	}
	// Equal starts keep configured source order: alpha before beta.
	if res.Today[0].Title != "Tie A" || res.Today[1].Title != "Tie B" {
		t.Errorf("tie-break wrong: got %q, %q", res.Today[0].Title, res.Today[1].Title)
	}
}

func TestAggregatePerSourceFailure(t *testing.T) {
	inputs := []SourceInput{
		{ID: "broken-fetch", Err: errors.New("connection refused")},
		{ID: "broken-parse", Body: []byte("not a calendar")},
		{ID: "healthy-1", Color: colorA, Body: icsBody(vevent("h1", "One", at(0, 9, 0), at(0, 10, 0)))},
		{ID: "healthy-2", Color: colorB, Body: icsBody(vevent("h2", "Two", at(0, 11, 0), at(0, 12, 0)))},
	}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Warnings) != 2 {
		t.Fatalf("Warnings = %+v, want 2", res.Warnings)
	}
	if res.Warnings[0].SourceID != "broken-fetch" || res.Warnings[1].SourceID != "broken-parse" {
		t.Errorf("warning source IDs: %+v", res.Warnings)
	}
	if len(res.Today) != 2 {
		t.Fatalf("Today len = %d, want 2 (healthy sources only)", len(res.Today))
	}
	for _, ev := range res.Today {
		if ev.SourceID != "healthy-1" && ev.SourceID != "healthy-2" {
			t.Errorf("event from failed source leaked: %+v", ev)
		}
	}
}

func TestAggregateAllSourcesFail(t *testing.T) {
	inputs := []SourceInput{
		{ID: "a", Err: errors.New("timeout")},
		{ID: "b", Body: []byte("garbage")},
		{ID: "c", Err: errors.New("dns")},
		{ID: "d", Body: []byte("")},
	}

	res := Aggregate(inputs, today, time.UTC)

	if res.Today == nil || res.Tomorrow == nil {
		t.Fatal("columns must be non-nil even when every source fails")
	}
	if len(res.Today) != 0 || len(res.Tomorrow) != 0 {
		t.Errorf("expected empty columns, got %d/%d", len(res.Today), len(res.Tomorrow))
	}
	if len(res.Warnings) != 4 {
		t.Errorf("Warnings = %d, want one per failed source", len(res.Warnings))
	}
}

func TestAggregateDeduplicates(t *testing.T) {
	dup := vevent("same", "Repeated", at(0, 9, 0), at(0, 10, 0))
	inputs := []SourceInput{{ID: "work", Color: colorA, Body: icsBody(dup, dup)}}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Today) != 1 {
		t.Fatalf("duplicate not collapsed: %+v", res.Today)
	}
}

func TestAggregateExcludeKeywords(t *testing.T) {
	inputs := []SourceInput{{
		ID:      "work",
		Color:   colorA,
		Exclude: []string{"declined"},
		Body: icsBody(
			vevent("e1", "Planning (Declined)", at(0, 9, 0), at(0, 10, 0)),
			vevent("e2", "Planning", at(0, 11, 0), at(0, 12, 0)),
		),
	}}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Today) != 1 || res.Today[0].Title != "Planning" {
		t.Errorf("exclusion filter wrong: %+v", res.Today)
	}
}

func TestAggregateSpanningEventLandsInToday(t *testing.T) {
	inputs := []SourceInput{{
		ID:    "work",
		Color: colorA,
		Body:  icsBody(vevent("span", "Overnight", at(0, 22, 0), at(1, 2, 0))),
	}}

	res := Aggregate(inputs, today, time.UTC)

	if len(res.Today) != 1 || len(res.Tomorrow) != 0 {
		t.Errorf("spanning event should be assigned to today only: today=%d tomorrow=%d", len(res.Today), len(res.Tomorrow))
	}
}
