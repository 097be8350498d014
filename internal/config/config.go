package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"inkcal/internal/palette"
)

// Error describes an invalid configuration. It is fatal at startup: the
// application never renders with invalid geometry or an incomplete calendar
// list.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// CalendarConfig describes a single remote calendar source.
type CalendarConfig struct {
	// Name is a human-friendly label, also used in logs and the footer.
	Name string `yaml:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url"`
	// Color is a hex value ("#RRGGBB") or a named color; events from this
	// source render in it.
	Color string `yaml:"color"`
	// Exclude lists keywords; events whose title contains one are skipped.
	Exclude []string `yaml:"exclude,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status server. Empty
	// disables the server.
	Listen string `yaml:"listen"`

	// Timezone is the IANA display timezone (e.g. "Europe/Berlin"). All
	// event times are converted into it.
	Timezone string `yaml:"timezone"`

	// RefreshCron is a cron-style schedule for periodic re-renders.
	RefreshCron string `yaml:"refresh"`

	// Calendars is the list of subscribed sources. Order matters: it is the
	// sort tie-break for events with equal start times.
	Calendars []CalendarConfig `yaml:"calendars"`

	// HourStart / HourEnd bound the visible hour window [HourStart, HourEnd).
	HourStart int `yaml:"hour_start"`
	HourEnd   int `yaml:"hour_end"`

	// Canvas geometry. Layout always assumes an unrotated landscape canvas;
	// Rotation is applied as a final whole-canvas transform.
	CanvasWidth  int `yaml:"canvas_width"`
	CanvasHeight int `yaml:"canvas_height"`
	Rotation     int `yaml:"rotation"`

	Margin    int `yaml:"margin"`
	ColumnGap int `yaml:"column_gap"`
	LaneGap   int `yaml:"lane_gap"`

	// MaxLanes caps how many overlapping events render side by side in one
	// column before the rest collapse into a "+N more" block.
	MaxLanes int `yaml:"max_lanes"`

	// FontPath optionally points at a TTF file. Empty uses the bundled Go
	// fonts.
	FontPath       string `yaml:"font_path,omitempty"`
	TitleFontSize  int    `yaml:"title_font_size"`
	BodyFontSize   int    `yaml:"body_font_size"`
	FooterFontSize int    `yaml:"footer_font_size"`

	BackgroundColor string `yaml:"background_color"`
	GridColor       string `yaml:"grid_color"`
	TextColor       string `yaml:"text_color"`

	// CachePath is where the last rendered canvas is published (PNG,
	// replaced atomically).
	CachePath string `yaml:"cache_path"`
	// FeedCacheDir holds per-source HTTP cache state (ETag, last body).
	FeedCacheDir string `yaml:"feed_cache_dir"`

	// RequestTimeoutSec bounds each source fetch.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`

	// ButtonPin names a GPIO pin (e.g. "GPIO16") that triggers an immediate
	// re-render when pulled low. Empty disables the button.
	ButtonPin string `yaml:"button_pin,omitempty"`

	// Display selects the output sink: "file" (preview PNG only) or "epd".
	Display string `yaml:"display"`

	// BasicAuth, if non-nil, protects all HTTP endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "UTC",
		RefreshCron:       "0 * * * *",
		Calendars:         []CalendarConfig{},
		HourStart:         7,
		HourEnd:           22,
		CanvasWidth:       800,
		CanvasHeight:      480,
		Rotation:          0,
		Margin:            16,
		ColumnGap:         20,
		LaneGap:           4,
		MaxLanes:          3,
		TitleFontSize:     22,
		BodyFontSize:      14,
		FooterFontSize:    11,
		BackgroundColor:   "white",
		GridColor:         "lightgray",
		TextColor:         "black",
		CachePath:         "./cache/last.png",
		FeedCacheDir:      "./cache/feeds",
		RequestTimeoutSec: 15,
		Display:           "file",
	}
}

// Normalize fills missing/zero values with defaults so partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.HourStart == 0 && c.HourEnd == 0 {
		c.HourStart = def.HourStart
		c.HourEnd = def.HourEnd
	}
	if c.CanvasWidth <= 0 {
		c.CanvasWidth = def.CanvasWidth
	}
	if c.CanvasHeight <= 0 {
		c.CanvasHeight = def.CanvasHeight
	}
	if c.Margin <= 0 {
		c.Margin = def.Margin
	}
	if c.ColumnGap <= 0 {
		c.ColumnGap = def.ColumnGap
	}
	if c.LaneGap <= 0 {
		c.LaneGap = def.LaneGap
	}
	if c.MaxLanes <= 0 {
		c.MaxLanes = def.MaxLanes
	}
	if c.TitleFontSize <= 0 {
		c.TitleFontSize = def.TitleFontSize
	}
	if c.BodyFontSize <= 0 {
		c.BodyFontSize = def.BodyFontSize
	}
	if c.FooterFontSize <= 0 {
		c.FooterFontSize = def.FooterFontSize
	}
	if c.BackgroundColor == "" {
		c.BackgroundColor = def.BackgroundColor
	}
	if c.GridColor == "" {
		c.GridColor = def.GridColor
	}
	if c.TextColor == "" {
		c.TextColor = def.TextColor
	}
	if c.CachePath == "" {
		c.CachePath = def.CachePath
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = def.FeedCacheDir
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = def.RequestTimeoutSec
	}
	if c.Display == "" {
		c.Display = def.Display
	}
}

// Validate checks the invariants the rest of the pipeline relies on. Any
// violation is a *Error and must abort startup.
func (c *Config) Validate() error {
	if c.HourStart < 0 || c.HourStart >= 24 {
		return &Error{Field: "hour_start", Reason: fmt.Sprintf("must be in [0,24), got %d", c.HourStart)}
	}
	if c.HourEnd <= 0 || c.HourEnd > 24 {
		return &Error{Field: "hour_end", Reason: fmt.Sprintf("must be in (0,24], got %d", c.HourEnd)}
	}
	if c.HourStart >= c.HourEnd {
		return &Error{Field: "hour_start", Reason: fmt.Sprintf("visible window is empty: hour_start=%d hour_end=%d", c.HourStart, c.HourEnd)}
	}

	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return &Error{Field: "rotation", Reason: fmt.Sprintf("must be 0, 90, 180 or 270, got %d", c.Rotation)}
	}

	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return &Error{Field: "canvas", Reason: fmt.Sprintf("invalid size %dx%d", c.CanvasWidth, c.CanvasHeight)}
	}
	if c.MaxLanes < 1 {
		return &Error{Field: "max_lanes", Reason: "must be at least 1"}
	}

	switch c.Display {
	case "file", "epd":
	default:
		return &Error{Field: "display", Reason: fmt.Sprintf("must be \"file\" or \"epd\", got %q", c.Display)}
	}

	for i, cal := range c.Calendars {
		field := fmt.Sprintf("calendars[%d]", i)
		if cal.Name == "" {
			return &Error{Field: field + ".name", Reason: "missing"}
		}
		if cal.URL == "" {
			return &Error{Field: field + ".url", Reason: "missing"}
		}
		if cal.Color == "" {
			return &Error{Field: field + ".color", Reason: "missing"}
		}
		if _, err := palette.Parse(cal.Color); err != nil {
			return &Error{Field: field + ".color", Reason: err.Error()}
		}
	}

	for _, name := range []string{c.BackgroundColor, c.GridColor, c.TextColor} {
		if _, err := palette.Parse(name); err != nil {
			return &Error{Field: "colors", Reason: err.Error()}
		}
	}

	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written (0600) and
//     returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".inkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
