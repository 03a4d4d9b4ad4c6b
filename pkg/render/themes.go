package render

import (
	"fmt"
	"image/color"
)

// Theme controls the chart canvas, text, and series colors.
type Theme struct {
	Name       string
	Background color.Color
	Foreground color.Color
	Palette    []color.Color
}

// SeriesColor returns the palette color for a series index, cycling when
// there are more series than palette entries.
func (t Theme) SeriesColor(i int) color.Color {
	return t.Palette[i%len(t.Palette)]
}

var themes = map[string]Theme{
	"light": {
		Name:       "light",
		Background: color.White,
		Foreground: color.RGBA{R: 0x21, G: 0x21, B: 0x21, A: 0xff},
		Palette: []color.Color{
			color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
			color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
			color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
			color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
			color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
			color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
		},
	},
	"dark": {
		Name:       "dark",
		Background: color.RGBA{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff},
		Foreground: color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff},
		Palette: []color.Color{
			color.RGBA{R: 0x4f, G: 0xa3, B: 0xe0, A: 0xff},
			color.RGBA{R: 0xff, G: 0xa5, B: 0x4c, A: 0xff},
			color.RGBA{R: 0x66, G: 0xc2, B: 0x66, A: 0xff},
			color.RGBA{R: 0xe8, G: 0x6a, B: 0x6a, A: 0xff},
			color.RGBA{R: 0xb3, G: 0x8c, B: 0xe0, A: 0xff},
			color.RGBA{R: 0xb0, G: 0x7c, B: 0x70, A: 0xff},
		},
	},
	"bizlight": {
		Name:       "bizlight",
		Background: color.RGBA{R: 0xfa, G: 0xfa, B: 0xf7, A: 0xff},
		Foreground: color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff},
		Palette: []color.Color{
			color.RGBA{R: 0x00, G: 0x3f, B: 0x5c, A: 0xff},
			color.RGBA{R: 0x58, G: 0x50, B: 0x8d, A: 0xff},
			color.RGBA{R: 0xbc, G: 0x50, B: 0x90, A: 0xff},
			color.RGBA{R: 0xff, G: 0x63, B: 0x61, A: 0xff},
			color.RGBA{R: 0xff, G: 0xa6, B: 0x00, A: 0xff},
		},
	},
	"bizdark": {
		Name:       "bizdark",
		Background: color.RGBA{R: 0x12, G: 0x1a, B: 0x26, A: 0xff},
		Foreground: color.RGBA{R: 0xd8, G: 0xde, B: 0xe6, A: 0xff},
		Palette: []color.Color{
			color.RGBA{R: 0x4c, G: 0x9f, B: 0xd8, A: 0xff},
			color.RGBA{R: 0x8a, G: 0x7f, B: 0xd6, A: 0xff},
			color.RGBA{R: 0xe0, G: 0x7f, B: 0xb8, A: 0xff},
			color.RGBA{R: 0xff, G: 0x8a, B: 0x87, A: 0xff},
			color.RGBA{R: 0xff, G: 0xc0, B: 0x4d, A: 0xff},
		},
	},
}

// DefaultTheme is used when a request names no theme.
const DefaultTheme = "light"

// ThemeByName returns a registered theme.
func ThemeByName(name string) (Theme, error) {
	if name == "" {
		name = DefaultTheme
	}
	theme, ok := themes[name]
	if !ok {
		return Theme{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidChart, name)
	}
	return theme, nil
}

// ThemeNames lists the registered theme names.
func ThemeNames() []string {
	return []string{"light", "dark", "bizlight", "bizdark"}
}
