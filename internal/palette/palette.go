// Package palette resolves configured color values (hex strings or a small
// set of named colors) into concrete pixel colors.
package palette

import (
	"fmt"
	"image/color"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// named maps the color names accepted in config files. The set mirrors what
// a tri-color / 7-color e-paper panel can plausibly show; anything else
// should be given as a hex value.
var named = map[string]color.NRGBA{
	"white":     {R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
	"black":     {R: 0x00, G: 0x00, B: 0x00, A: 0xFF},
	"red":       {R: 0xC8, G: 0x28, B: 0x28, A: 0xFF},
	"green":     {R: 0x3C, G: 0x8C, B: 0x3C, A: 0xFF},
	"blue":      {R: 0x32, G: 0x50, B: 0xA0, A: 0xFF},
	"yellow":    {R: 0xE6, G: 0xC8, B: 0x3C, A: 0xFF},
	"orange":    {R: 0xDC, G: 0x8C, B: 0x32, A: 0xFF},
	"gray":      {R: 0x80, G: 0x80, B: 0x80, A: 0xFF},
	"grey":      {R: 0x80, G: 0x80, B: 0x80, A: 0xFF},
	"lightgray": {R: 0xD3, G: 0xD3, B: 0xD3, A: 0xFF},
	"lightgrey": {R: 0xD3, G: 0xD3, B: 0xD3, A: 0xFF},
}

// Parse resolves a configured color value. Accepted forms:
//
//   - "#RRGGBB" (case-insensitive hex)
//   - one of the named colors above
func Parse(value string) (color.NRGBA, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return color.NRGBA{}, fmt.Errorf("palette: empty color value")
	}

	if strings.HasPrefix(v, "#") {
		c, err := colorful.Hex(v)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("palette: invalid hex color %q: %w", value, err)
		}
		r, g, b := c.RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 0xFF}, nil
	}

	if c, ok := named[v]; ok {
		return c, nil
	}
	return color.NRGBA{}, fmt.Errorf("palette: unknown color name %q", value)
}
