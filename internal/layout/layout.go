// Package layout turns a sorted event column into renderer-ready pixel
// blocks. It reasons in an unrotated landscape coordinate space; rotation is
// applied later by the renderer as a whole-canvas transform.
package layout

import (
	"fmt"
	"time"

	"golang.org/x/image/font"

	"inkcal/internal/model"
)

// Column identifies one of the two rendered day panels.
type Column int

const (
	ColumnToday Column = iota
	ColumnTomorrow
)

func (c Column) String() string {
	if c == ColumnToday {
		return "today"
	}
	return "tomorrow"
}

// DayWindow is the visible slice of one day.
//
// Invariant: 0 <= HourStart < HourEnd <= 24. Config validation enforces this
// at startup; layout assumes it.
type DayWindow struct {
	// Date is midnight of the day in the display timezone.
	Date      time.Time
	HourStart int
	HourEnd   int
	Column    Column
}

// Start returns the instant the visible window opens.
func (w DayWindow) Start() time.Time {
	return w.Date.Add(time.Duration(w.HourStart) * time.Hour)
}

// End returns the instant the visible window closes (exclusive).
func (w DayWindow) End() time.Time {
	return w.Date.Add(time.Duration(w.HourEnd) * time.Hour)
}

// Geometry describes the pixel area available to one column.
type Geometry struct {
	// X/Y/Width/Height bound the hour grid (below the all-day lane).
	X, Y          int
	Width, Height int

	// AllDayY / AllDayHeight bound the all-day lane above the grid.
	// AllDayHeight == 0 disables the lane.
	AllDayY      int
	AllDayHeight int

	// LaneGap is the horizontal spacing between side-by-side lanes.
	LaneGap int
	// MaxLanes caps concurrent side-by-side lanes; excess events collapse
	// into a single "+N more" block.
	MaxLanes int
	// MinBlockHeight keeps very short events visible.
	MinBlockHeight int
	// Padding is the inner text inset of a block.
	Padding int
}

// BlockKind distinguishes how the renderer paints a block.
type BlockKind int

const (
	BlockTimed BlockKind = iota
	BlockAllDay
	BlockSummary
)

// Block is a computed, renderer-ready rectangle plus text placement for one
// event instance (or a "+N more" summary).
type Block struct {
	// Event is nil for summary blocks.
	Event *model.Event
	Kind  BlockKind

	X, Y, W, H int
	Column     Column

	// Clipped is true when the event straddles a window edge and was
	// truncated to it.
	Clipped bool

	// Title is the display text, already truncated to fit W.
	Title string
	// TimeLabel is empty for all-day and summary blocks.
	TimeLabel string

	// HiddenCount is the number of events a summary block stands for.
	HiddenCount int
}

// Compute lays out one column. events must already be sorted by start (the
// aggregator guarantees this); face is the body font used to measure titles.
// Zero events produce zero blocks, which the renderer draws as an empty grid.
func Compute(events []model.Event, win DayWindow, geo Geometry, face font.Face) []Block {
	blocks := make([]Block, 0, len(events))

	var allDay, timed []model.Event
	for _, ev := range events {
		if ev.AllDay {
			allDay = append(allDay, ev)
		} else {
			timed = append(timed, ev)
		}
	}

	blocks = append(blocks, layoutAllDay(allDay, win, geo, face)...)
	blocks = append(blocks, layoutTimed(timed, win, geo, face)...)
	return blocks
}

// layoutAllDay places all-day events in the header lane in arrival order,
// wrapping to a second line when the first overflows. Events beyond the
// second line collapse into a trailing "+N" block.
func layoutAllDay(events []model.Event, win DayWindow, geo Geometry, face font.Face) []Block {
	if len(events) == 0 || geo.AllDayHeight <= 0 {
		return nil
	}

	rowH := geo.AllDayHeight / 2
	if rowH < 1 {
		rowH = geo.AllDayHeight
	}

	blocks := make([]Block, 0, len(events))
	x, row := geo.X, 0

	for i := range events {
		ev := &events[i]
		w := measure(face, ev.Title) + 2*geo.Padding
		if w > geo.Width {
			w = geo.Width
		}

		if x+w > geo.X+geo.Width {
			if row == 0 {
				row, x = 1, geo.X
			} else {
				// Lane is full: one summary block for everything left.
				rest := len(events) - i
				sum := summaryBlock(rest, win.Column, face)
				sum.Kind = BlockAllDay
				sum.X = x
				sum.Y = geo.AllDayY + row*rowH
				sum.H = rowH
				if sum.X+sum.W > geo.X+geo.Width {
					sum.W = geo.X + geo.Width - sum.X
				}
				blocks = append(blocks, sum)
				return blocks
			}
		}

		blocks = append(blocks, Block{
			Event:  ev,
			Kind:   BlockAllDay,
			X:      x,
			Y:      geo.AllDayY + row*rowH,
			W:      w,
			H:      rowH,
			Column: win.Column,
			Title:  TruncateToWidth(face, ev.Title, w-2*geo.Padding),
		})
		x += w + geo.LaneGap
	}

	return blocks
}

// cluster is a maximal run of transitively overlapping timed events.
type cluster struct {
	events []clippedEvent
}

type clippedEvent struct {
	ev         *model.Event
	start, end time.Time
	clipped    bool
}

// layoutTimed maps timed events onto the hour grid: window clipping, linear
// time-to-pixel interpolation, side-by-side lanes for overlaps, and a "+N
// more" summary once the lane cap is hit.
func layoutTimed(events []model.Event, win DayWindow, geo Geometry, face font.Face) []Block {
	winStart, winEnd := win.Start(), win.End()

	// Clip to the visible window; discard events entirely outside it.
	visible := make([]clippedEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		if !ev.Overlaps(winStart, winEnd) {
			continue
		}
		ce := clippedEvent{ev: ev, start: ev.Start, end: ev.End}
		if ce.start.Before(winStart) {
			ce.start = winStart
			ce.clipped = true
		}
		if ce.end.After(winEnd) {
			ce.end = winEnd
			ce.clipped = true
		}
		visible = append(visible, ce)
	}

	blocks := make([]Block, 0, len(visible))
	for _, cl := range buildClusters(visible) {
		blocks = append(blocks, layoutCluster(cl, win, geo, face)...)
	}
	return blocks
}

// buildClusters groups events into maximal sets of transitive overlap.
// Input order (sorted by start) is preserved within each cluster.
func buildClusters(events []clippedEvent) []cluster {
	var clusters []cluster
	var cur cluster
	var curEnd time.Time

	for _, ce := range events {
		if len(cur.events) > 0 && !ce.start.Before(curEnd) {
			clusters = append(clusters, cur)
			cur = cluster{}
		}
		cur.events = append(cur.events, ce)
		if len(cur.events) == 1 || ce.end.After(curEnd) {
			curEnd = ce.end
		}
	}
	if len(cur.events) > 0 {
		clusters = append(clusters, cur)
	}
	return clusters
}

// layoutCluster assigns the cluster's events to equal-width lanes. Events
// that cannot get a lane (cap reached) are merged into exactly one summary
// block at the bottom of the busiest lane.
func layoutCluster(cl cluster, win DayWindow, geo Geometry, face font.Face) []Block {
	type lane struct {
		end   time.Time
		count int
	}

	maxLanes := geo.MaxLanes
	if maxLanes < 1 {
		maxLanes = 1
	}

	lanes := make([]lane, 0, maxLanes)
	assignment := make([]int, len(cl.events)) // -1 = overflow
	overflow := 0

	for i, ce := range cl.events {
		assignment[i] = -1
		for li := range lanes {
			if !lanes[li].end.After(ce.start) {
				assignment[i] = li
				lanes[li].end = ce.end
				lanes[li].count++
				break
			}
		}
		if assignment[i] == -1 {
			if len(lanes) < maxLanes {
				lanes = append(lanes, lane{end: ce.end, count: 1})
				assignment[i] = len(lanes) - 1
			} else {
				overflow++
			}
		}
	}

	laneCount := len(lanes)
	laneW := (geo.Width - (laneCount-1)*geo.LaneGap) / laneCount

	blocks := make([]Block, 0, len(cl.events))
	for i, ce := range cl.events {
		li := assignment[i]
		if li < 0 {
			continue
		}

		y1 := geo.Y + interpolate(ce.start, win, geo.Height)
		y2 := geo.Y + interpolate(ce.end, win, geo.Height)
		if y2-y1 < geo.MinBlockHeight {
			y2 = y1 + geo.MinBlockHeight
		}
		if y2 > geo.Y+geo.Height {
			y2 = geo.Y + geo.Height
			if y2-y1 < geo.MinBlockHeight {
				y1 = y2 - geo.MinBlockHeight
			}
		}

		x := geo.X + li*(laneW+geo.LaneGap)
		blocks = append(blocks, Block{
			Event:     ce.ev,
			Kind:      BlockTimed,
			X:         x,
			Y:         y1,
			W:         laneW,
			H:         y2 - y1,
			Column:    win.Column,
			Clipped:   ce.clipped,
			Title:     TruncateToWidth(face, ce.ev.Title, laneW-2*geo.Padding),
			TimeLabel: timeLabel(ce.ev),
		})
	}

	if overflow > 0 {
		// Busiest lane hosts the summary at the bottom of the grid.
		busiest := 0
		for li := range lanes {
			if lanes[li].count > lanes[busiest].count {
				busiest = li
			}
		}

		sum := summaryBlock(overflow, win.Column, face)
		sum.W = laneW
		sum.H = 2 * geo.MinBlockHeight
		sum.X = geo.X + busiest*(laneW+geo.LaneGap)
		sum.Y = geo.Y + geo.Height - sum.H
		sum.Title = TruncateToWidth(face, sum.Title, laneW-2*geo.Padding)
		blocks = append(blocks, sum)
	}

	return blocks
}

func summaryBlock(n int, col Column, face font.Face) Block {
	title := fmt.Sprintf("+%d more", n)
	return Block{
		Kind:        BlockSummary,
		Column:      col,
		Title:       title,
		W:           measure(face, title),
		HiddenCount: n,
	}
}

// interpolate maps an instant inside the window to a vertical pixel offset by
// direct linear scale. Callers clip t to the window first, so the result is
// always within [0, gridHeight].
func interpolate(t time.Time, win DayWindow, gridHeight int) int {
	total := win.End().Sub(win.Start())
	offset := t.Sub(win.Start())
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	return int(float64(gridHeight) * float64(offset) / float64(total))
}

func timeLabel(ev *model.Event) string {
	return ev.Start.Format("15:04") + "–" + ev.End.Format("15:04")
}

// TruncateToWidth returns the widest prefix of s that fits maxWidth pixels in
// the given face, with an ellipsis appended when anything was cut. Truncation
// happens at rune boundaries.
func TruncateToWidth(face font.Face, s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if measure(face, s) <= maxWidth {
		return s
	}

	const ellipsis = "…"
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if measure(face, candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}
