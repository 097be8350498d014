// Package pipeline drives the fetch, aggregate, layout, render, publish
// cycle and serializes it: at most one cycle runs at a time, and triggers
// that arrive mid-cycle coalesce into a single follow-up run.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"inkcal/internal/agg"
	"inkcal/internal/battery"
	"inkcal/internal/config"
	"inkcal/internal/display"
	"inkcal/internal/feed"
	"inkcal/internal/layout"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
	"inkcal/internal/palette"
	"inkcal/internal/render"
)

// Runner owns one complete render pipeline.
type Runner struct {
	Cfg      *config.Config
	Loc      *time.Location
	Renderer *render.Renderer
	Fetcher  *feed.Fetcher
	Sinks    []display.Sink

	// Battery is optional; when set, its reading goes into the footer.
	Battery battery.Reader

	// Demo replaces the fetch stage with a fixed sample schedule.
	Demo bool

	// Now is the clock; tests pin it for deterministic output.
	Now func() time.Time

	mu       sync.Mutex
	inFlight bool
	pending  bool

	lastMu       sync.RWMutex
	last         agg.Result
	lastRendered time.Time
	haveLast     bool
}

// New wires a Runner with a real clock.
func New(cfg *config.Config, loc *time.Location, renderer *render.Renderer, fetcher *feed.Fetcher, sinks []display.Sink) *Runner {
	return &Runner{
		Cfg:      cfg,
		Loc:      loc,
		Renderer: renderer,
		Fetcher:  fetcher,
		Sinks:    sinks,
		Now:      time.Now,
	}
}

// RenderNow runs one pipeline cycle. If a cycle is already in flight the
// call returns immediately and the running cycle repeats once more when it
// finishes, so a burst of triggers (cron plus button plus HTTP) costs a
// single extra refresh instead of a queue of them.
func (r *Runner) RenderNow(ctx context.Context) error {
	r.mu.Lock()
	if r.inFlight {
		r.pending = true
		r.mu.Unlock()
		applog.Info("render already in flight, coalescing trigger")
		return nil
	}
	r.inFlight = true
	r.mu.Unlock()

	var err error
	for {
		err = r.runCycle(ctx)

		r.mu.Lock()
		if r.pending && ctx.Err() == nil {
			r.pending = false
			r.mu.Unlock()
			continue
		}
		r.pending = false
		r.inFlight = false
		r.mu.Unlock()
		return err
	}
}

// LastResult returns the most recent aggregation result and when it was
// rendered. ok is false before the first successful cycle.
func (r *Runner) LastResult() (res agg.Result, renderedAt time.Time, ok bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last, r.lastRendered, r.haveLast
}

func (r *Runner) runCycle(ctx context.Context) error {
	now := r.Now().In(r.Loc)
	start := time.Now()

	var (
		result   agg.Result
		statuses []render.SourceStatus
	)
	if r.Demo {
		result = demoResult(now, r.Loc)
		statuses = []render.SourceStatus{
			{Name: "Demo A", OK: true},
			{Name: "Demo B", OK: true},
			{Name: "Demo C", OK: true},
			{Name: "Demo D", OK: true},
		}
	} else {
		result = r.fetchAndAggregate(ctx, now)
		statuses = r.sourceStatuses(result)
	}

	img, err := r.renderResult(now, result, statuses)
	if err != nil {
		// The previous canvas stays the last known good output.
		applog.Error("render cycle aborted", err)
		return err
	}

	r.lastMu.Lock()
	r.last = result
	r.lastRendered = now
	r.haveLast = true
	r.lastMu.Unlock()

	var pushErr error
	for _, sink := range r.Sinks {
		if err := sink.Push(ctx, img); err != nil {
			applog.Error("sink push failed", err)
			if pushErr == nil {
				pushErr = err
			}
		}
	}

	applog.Info("render cycle done",
		"today", len(result.Today),
		"tomorrow", len(result.Tomorrow),
		"warnings", len(result.Warnings),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return pushErr
}

func (r *Runner) fetchAndAggregate(ctx context.Context, now time.Time) agg.Result {
	sources := make([]feed.Source, len(r.Cfg.Calendars))
	for i, cal := range r.Cfg.Calendars {
		sources[i] = feed.Source{ID: cal.Name, URL: cal.URL}
	}
	fetched := r.Fetcher.FetchAll(ctx, sources)

	inputs := make([]agg.SourceInput, len(fetched))
	for i, res := range fetched {
		cal := r.Cfg.Calendars[i]
		// Validation vetted the color at startup.
		col, _ := palette.Parse(cal.Color)
		inputs[i] = agg.SourceInput{
			ID:      cal.Name,
			Name:    cal.Name,
			Color:   col,
			Exclude: cal.Exclude,
			Body:    res.Body,
			Err:     res.Err,
		}
	}

	return agg.Aggregate(inputs, now, r.Loc)
}

func (r *Runner) sourceStatuses(result agg.Result) []render.SourceStatus {
	failed := make(map[string]struct{}, len(result.Warnings))
	for _, w := range result.Warnings {
		failed[w.SourceID] = struct{}{}
	}

	statuses := make([]render.SourceStatus, len(r.Cfg.Calendars))
	for i, cal := range r.Cfg.Calendars {
		_, bad := failed[cal.Name]
		statuses[i] = render.SourceStatus{Name: cal.Name, OK: !bad}
	}
	return statuses
}

func (r *Runner) renderResult(now time.Time, result agg.Result, statuses []render.SourceStatus) (image.Image, error) {
	cfg := r.Cfg
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.Loc)

	today := layout.DayWindow{
		Date:      dayStart,
		HourStart: cfg.HourStart,
		HourEnd:   cfg.HourEnd,
		Column:    layout.ColumnToday,
	}
	tomorrow := today
	tomorrow.Date = dayStart.AddDate(0, 0, 1)
	tomorrow.Column = layout.ColumnTomorrow

	face := r.Renderer.BodyFace()
	in := render.Input{
		Now:            now,
		Today:          today,
		Tomorrow:       tomorrow,
		TodayBlocks:    layout.Compute(result.Today, today, r.Renderer.Geometry(layout.ColumnToday), face),
		TomorrowBlocks: layout.Compute(result.Tomorrow, tomorrow, r.Renderer.Geometry(layout.ColumnTomorrow), face),
		Sources:        statuses,
		BatteryPercent: -1,
	}

	if r.Battery != nil {
		st, err := r.Battery.Read()
		if err != nil {
			applog.Warn("battery read failed", "reason", err)
		} else {
			in.BatteryPercent = st.Percent
		}
	}

	return r.Renderer.Render(in)
}

// demoResult fabricates a plausible two-day schedule so the view can be
// checked without any network access or real calendars.
func demoResult(now time.Time, loc *time.Location) agg.Result {
	base := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, loc)
	tomorrowBase := base.AddDate(0, 0, 1)

	ev := func(title string, start time.Time, d time.Duration, idx int, hex string) model.Event {
		col, _ := palette.Parse(hex)
		return model.Event{
			SourceID:    "demo",
			SourceIndex: idx,
			UID:         title,
			Title:       title,
			Start:       start,
			End:         start.Add(d),
			Color:       col,
		}
	}

	return agg.Result{
		Today: []model.Event{
			ev("Daily sync (Teams)", base.Add(1*time.Hour), time.Hour, 0, "#FEE29B"),
			ev("Project planning", base.Add(3*time.Hour+30*time.Minute), 90*time.Minute, 1, "#CDE7F5"),
			ev("Customer call", base.Add(8*time.Hour), 90*time.Minute, 2, "#D5F5D0"),
			ev("Evening class", base.Add(10*time.Hour), 2*time.Hour, 3, "#F5C9C9"),
		},
		Tomorrow: []model.Event{
			ev("Sprint kickoff", tomorrowBase.Add(1*time.Hour), 90*time.Minute, 0, "#FEE29B"),
			ev("Design review", tomorrowBase.Add(4*time.Hour), time.Hour, 1, "#CDE7F5"),
			ev("Gym", tomorrowBase.Add(9*time.Hour), time.Hour, 2, "#D5F5D0"),
		},
	}
}
