// Package render draws line, bar, and scatter charts to the image formats
// the storage layer recognizes.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

// ErrInvalidChart indicates a chart request that fails validation.
var ErrInvalidChart = errors.New("invalid chart request")

// Kind is the chart type.
type Kind string

// Chart kinds (typed).
const (
	KindLine    Kind = "line"
	KindBar     Kind = "bar"
	KindScatter Kind = "scatter"
)

// Validation limits.
const (
	MaxSeries     = 16
	MaxPoints     = 10000
	MaxCategories = 100
	MaxDimension  = 4000 // points
)

// Series is one named sequence of (x, y) points.
type Series struct {
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

// Request describes a chart to draw.
type Request struct {
	Kind   Kind   `json:"kind"`
	Title  string `json:"title,omitempty"`
	XLabel string `json:"x_label,omitempty"`
	YLabel string `json:"y_label,omitempty"`

	// Line and scatter charts
	Series []Series `json:"series,omitempty"`

	// Bar charts
	Categories []string  `json:"categories,omitempty"`
	Values     []float64 `json:"values,omitempty"`

	Width  float64 `json:"width,omitempty"`  // points; default 640
	Height float64 `json:"height,omitempty"` // points; default 480
	Theme  string  `json:"theme,omitempty"`
	Format string  `json:"format,omitempty"` // default png
}

// Render validates the request and draws it, returning the encoded bytes
// and the normalized format.
func Render(req Request) ([]byte, string, error) {
	format := req.Format
	if format == "" {
		format = "png"
	}
	format, err := imagestore.NormalizeFormat(format)
	if err != nil {
		return nil, "", err
	}

	theme, err := ThemeByName(req.Theme)
	if err != nil {
		return nil, "", err
	}

	if err := validate(req); err != nil {
		return nil, "", err
	}

	p := plot.New()
	applyTheme(p, theme)
	p.Title.Text = req.Title
	p.X.Label.Text = req.XLabel
	p.Y.Label.Text = req.YLabel

	switch req.Kind {
	case KindLine:
		err = addLines(p, req.Series, theme)
	case KindScatter:
		err = addScatters(p, req.Series, theme)
	case KindBar:
		err = addBars(p, req.Categories, req.Values, theme)
	default:
		err = fmt.Errorf("%w: unknown chart kind %q", ErrInvalidChart, req.Kind)
	}
	if err != nil {
		return nil, "", err
	}

	width, height := req.Width, req.Height
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}

	writer, err := p.WriterTo(vg.Points(width), vg.Points(height), format)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to encode chart: %w", err)
	}
	return buf.Bytes(), format, nil
}

func validate(req Request) error {
	if req.Width < 0 || req.Height < 0 || req.Width > MaxDimension || req.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions must be within (0, %d] points", ErrInvalidChart, MaxDimension)
	}

	switch req.Kind {
	case KindLine, KindScatter:
		if len(req.Series) == 0 {
			return fmt.Errorf("%w: at least one series is required", ErrInvalidChart)
		}
		if len(req.Series) > MaxSeries {
			return fmt.Errorf("%w: at most %d series are allowed", ErrInvalidChart, MaxSeries)
		}
		for i, s := range req.Series {
			if len(s.X) != len(s.Y) {
				return fmt.Errorf("%w: series %d has %d x values but %d y values", ErrInvalidChart, i, len(s.X), len(s.Y))
			}
			if len(s.X) == 0 {
				return fmt.Errorf("%w: series %d is empty", ErrInvalidChart, i)
			}
			if len(s.X) > MaxPoints {
				return fmt.Errorf("%w: series %d exceeds %d points", ErrInvalidChart, i, MaxPoints)
			}
			if !allFinite(s.X) || !allFinite(s.Y) {
				return fmt.Errorf("%w: series %d contains non-finite values", ErrInvalidChart, i)
			}
		}
	case KindBar:
		if len(req.Categories) == 0 {
			return fmt.Errorf("%w: at least one category is required", ErrInvalidChart)
		}
		if len(req.Categories) > MaxCategories {
			return fmt.Errorf("%w: at most %d categories are allowed", ErrInvalidChart, MaxCategories)
		}
		if len(req.Categories) != len(req.Values) {
			return fmt.Errorf("%w: %d categories but %d values", ErrInvalidChart, len(req.Categories), len(req.Values))
		}
		if !allFinite(req.Values) {
			return fmt.Errorf("%w: values contain non-finite entries", ErrInvalidChart)
		}
	}
	return nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func applyTheme(p *plot.Plot, theme Theme) {
	p.BackgroundColor = theme.Background
	p.Title.TextStyle.Color = theme.Foreground
	for _, axis := range []*plot.Axis{&p.X, &p.Y} {
		axis.Color = theme.Foreground
		axis.Label.TextStyle.Color = theme.Foreground
		axis.Tick.Color = theme.Foreground
		axis.Tick.Label.Color = theme.Foreground
	}
	p.Legend.TextStyle.Color = theme.Foreground
	p.Legend.Top = true
}

func toXYs(s Series) plotter.XYs {
	xys := make(plotter.XYs, len(s.X))
	for i := range s.X {
		xys[i].X = s.X[i]
		xys[i].Y = s.Y[i]
	}
	return xys
}

func addLines(p *plot.Plot, series []Series, theme Theme) error {
	for i, s := range series {
		line, err := plotter.NewLine(toXYs(s))
		if err != nil {
			return fmt.Errorf("failed to build line series: %w", err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = theme.SeriesColor(i)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
	}
	return nil
}

func addScatters(p *plot.Plot, series []Series, theme Theme) error {
	for i, s := range series {
		scatter, err := plotter.NewScatter(toXYs(s))
		if err != nil {
			return fmt.Errorf("failed to build scatter series: %w", err)
		}
		scatter.GlyphStyle.Color = theme.SeriesColor(i)
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(scatter)
		if s.Name != "" {
			p.Legend.Add(s.Name, scatter)
		}
	}
	return nil
}

func addBars(p *plot.Plot, categories []string, values []float64, theme Theme) error {
	bars, err := plotter.NewBarChart(plotter.Values(values), vg.Points(20))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.Color = theme.SeriesColor(0)
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(categories...)
	return nil
}
