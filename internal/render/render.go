// Package render paints a computed layout onto a pixel canvas. It is fully
// deterministic: identical inputs produce a pixel-identical image. "Now" is
// passed in, never sampled, and rotation is a final whole-canvas transform so
// layout math stays in landscape space.
package render

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"

	"inkcal/internal/config"
	"inkcal/internal/layout"
	"inkcal/internal/palette"
)

// Error is a rendering failure (e.g. an unavailable font asset). It aborts
// the current cycle only; the previous canvas stays the last-known-good
// output.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SourceStatus feeds the footer's per-source health line.
type SourceStatus struct {
	Name string
	OK   bool
}

// Input is everything one render needs. It carries no hidden state; two
// equal Inputs render byte-identical canvases.
type Input struct {
	// Now is the timestamp shown in the footer.
	Now time.Time

	Today    layout.DayWindow
	Tomorrow layout.DayWindow

	TodayBlocks    []layout.Block
	TomorrowBlocks []layout.Block

	Sources []SourceStatus

	// BatteryPercent is shown in the footer when >= 0.
	BatteryPercent int
}

// Renderer owns the fonts, palette and column geometry derived from config.
type Renderer struct {
	cfg   *config.Config
	faces Faces

	bg   color.NRGBA
	grid color.NRGBA
	text color.NRGBA

	geoToday    layout.Geometry
	geoTomorrow layout.Geometry
}

const (
	headerPad      = 10
	labelPad       = 6
	minBlockHeight = 6
	blockStripe    = 4
)

// New builds a Renderer. Font problems surface here (as *Error) so the
// caller can fail fast at startup instead of mid-cycle.
func New(cfg *config.Config) (*Renderer, error) {
	faces, err := loadFaces(cfg.FontPath, cfg.TitleFontSize, cfg.BodyFontSize, cfg.FooterFontSize)
	if err != nil {
		return nil, err
	}

	r := &Renderer{cfg: cfg, faces: faces}

	// Config validation already vetted these; Parse cannot fail here.
	r.bg, _ = palette.Parse(cfg.BackgroundColor)
	r.grid, _ = palette.Parse(cfg.GridColor)
	r.text, _ = palette.Parse(cfg.TextColor)

	r.computeGeometry()
	return r, nil
}

// computeGeometry splits the landscape canvas into the two column areas.
// Each column gets a gutter on its left for hour labels.
func (r *Renderer) computeGeometry() {
	cfg := r.cfg

	gutter := font.MeasureString(r.faces.Footer, "00:00").Ceil() + 2*labelPad
	headerH := cfg.TitleFontSize + headerPad
	allDayH := 2 * (cfg.BodyFontSize + labelPad)
	footerH := cfg.FooterFontSize + headerPad

	top := cfg.Margin + headerH
	gridY := top + allDayH + labelPad
	gridH := cfg.CanvasHeight - cfg.Margin - footerH - gridY

	colW := (cfg.CanvasWidth - 2*cfg.Margin - 2*gutter - cfg.ColumnGap) / 2
	leftX := cfg.Margin + gutter
	rightX := leftX + colW + cfg.ColumnGap + gutter

	base := layout.Geometry{
		Y:              gridY,
		Width:          colW,
		Height:         gridH,
		AllDayY:        top,
		AllDayHeight:   allDayH,
		LaneGap:        cfg.LaneGap,
		MaxLanes:       cfg.MaxLanes,
		MinBlockHeight: minBlockHeight,
		Padding:        labelPad,
	}

	r.geoToday = base
	r.geoToday.X = leftX
	r.geoTomorrow = base
	r.geoTomorrow.X = rightX
}

// Geometry returns the pixel area of one column, for the layout engine.
func (r *Renderer) Geometry(col layout.Column) layout.Geometry {
	if col == layout.ColumnToday {
		return r.geoToday
	}
	return r.geoTomorrow
}

// BodyFace is the face layout uses to measure and truncate titles.
func (r *Renderer) BodyFace() font.Face {
	return r.faces.Body
}

// Render paints the full view and returns the finished canvas.
func (r *Renderer) Render(in Input) (image.Image, error) {
	cfg := r.cfg
	if r.geoToday.Height <= 0 || r.geoToday.Width <= 0 {
		return nil, &Error{Op: "geometry", Err: fmt.Errorf("canvas %dx%d too small for configured fonts and margins", cfg.CanvasWidth, cfg.CanvasHeight)}
	}

	dc := gg.NewContext(cfg.CanvasWidth, cfg.CanvasHeight)
	dc.SetColor(r.bg)
	dc.Clear()

	r.drawColumn(dc, "Today", in.Today, in.TodayBlocks, r.geoToday)
	r.drawColumn(dc, "Tomorrow", in.Tomorrow, in.TomorrowBlocks, r.geoTomorrow)
	r.drawFooter(dc, in)

	return r.rotate(dc.Image()), nil
}

func (r *Renderer) drawColumn(dc *gg.Context, label string, win layout.DayWindow, blocks []layout.Block, geo layout.Geometry) {
	// Column header: "Today — Tue 06 May".
	dc.SetFontFace(r.faces.Title)
	dc.SetColor(r.text)
	header := label + "  " + win.Date.Format("Mon 02 Jan")
	dc.DrawString(header, float64(geo.X), float64(r.cfg.Margin+r.cfg.TitleFontSize))

	r.drawGrid(dc, win, geo)

	for _, b := range blocks {
		r.drawBlock(dc, b, geo)
	}
}

// drawGrid paints one horizontal line plus label per visible hour, and a
// separator under the all-day lane.
func (r *Renderer) drawGrid(dc *gg.Context, win layout.DayWindow, geo layout.Geometry) {
	hours := win.HourEnd - win.HourStart

	dc.SetFontFace(r.faces.Footer)
	for h := 0; h <= hours; h++ {
		y := float64(geo.Y) + float64(h)*float64(geo.Height)/float64(hours)

		dc.SetColor(r.grid)
		dc.SetLineWidth(1)
		dc.DrawLine(float64(geo.X), y, float64(geo.X+geo.Width), y)
		dc.Stroke()

		lbl := fmt.Sprintf("%02d:00", win.HourStart+h)
		w, _ := dc.MeasureString(lbl)
		dc.SetColor(r.text)
		dc.DrawString(lbl, float64(geo.X)-w-labelPad, y+float64(r.cfg.FooterFontSize)/2)
	}

	// All-day lane separator.
	sepY := float64(geo.AllDayY + geo.AllDayHeight + labelPad/2)
	dc.SetColor(r.grid)
	dc.DrawLine(float64(geo.X), sepY, float64(geo.X+geo.Width), sepY)
	dc.Stroke()
}

func (r *Renderer) drawBlock(dc *gg.Context, b layout.Block, geo layout.Geometry) {
	fill := color.NRGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF} // summary blocks
	if b.Event != nil {
		fill = b.Event.Color
	}

	dc.SetColor(fill)
	dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.W), float64(b.H))
	dc.Fill()

	// Accent stripe on the left edge, matching the original look.
	if b.Kind == layout.BlockTimed {
		dc.SetColor(r.text)
		dc.DrawRectangle(float64(b.X), float64(b.Y), blockStripe, float64(b.H))
		dc.Fill()
	}

	textX := float64(b.X + blockStripe + geo.Padding)
	textY := float64(b.Y)

	// Time label first, then the title; skip what the block is too short for.
	if b.TimeLabel != "" && b.H >= r.cfg.FooterFontSize+r.cfg.BodyFontSize+3*geo.Padding {
		dc.SetFontFace(r.faces.Footer)
		dc.SetColor(r.text)
		textY += float64(geo.Padding + r.cfg.FooterFontSize)
		dc.DrawString(b.TimeLabel, textX, textY)
	}
	if b.Title != "" && b.H >= r.cfg.BodyFontSize+2*geo.Padding {
		dc.SetFontFace(r.faces.Body)
		dc.SetColor(r.text)
		textY += float64(geo.Padding + r.cfg.BodyFontSize)
		dc.DrawString(b.Title, textX, textY)
	}
}

// drawFooter writes the status line: per-source health on the left, battery
// and last-update timestamp on the right.
func (r *Renderer) drawFooter(dc *gg.Context, in Input) {
	cfg := r.cfg
	y := float64(cfg.CanvasHeight - cfg.Margin)

	dc.SetFontFace(r.faces.Footer)
	dc.SetColor(r.text)

	healthy := 0
	for _, s := range in.Sources {
		if s.OK {
			healthy++
		}
	}
	left := fmt.Sprintf("%d/%d sources ok", healthy, len(in.Sources))
	for _, s := range in.Sources {
		if !s.OK {
			left += "  !" + s.Name
		}
	}
	dc.DrawString(left, float64(cfg.Margin), y)

	right := "Updated " + in.Now.Format("2006-01-02 15:04 MST")
	if in.BatteryPercent >= 0 {
		right = fmt.Sprintf("bat %d%%  %s", in.BatteryPercent, right)
	}
	w, _ := dc.MeasureString(right)
	dc.DrawString(right, float64(cfg.CanvasWidth-cfg.Margin)-w, y)
}

// rotate applies the configured clockwise rotation as the final transform.
func (r *Renderer) rotate(img image.Image) image.Image {
	switch r.cfg.Rotation {
	case 90:
		return imaging.Rotate270(img) // imaging rotates counter-clockwise
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
