// Package charts renders the species summary bar charts as PNG.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/draw"

	"wildspan.exe.dev/srv/stats"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to chart")

const (
	chartHeight = 600
	minWidth    = 640
	barWidth    = 40
	barSpacing  = 24
)

var (
	countColor = drawing.Color{R: 135, G: 206, B: 235, A: 255} // sky blue
	rangeColor = drawing.Color{R: 240, G: 128, B: 128, A: 255} // light coral
)

// ObservationCounts is the first chart: metadata files per species.
func ObservationCounts(sum stats.Summary) chart.BarChart {
	bars := make([]chart.Value, 0, len(sum.Species))
	for _, s := range sum.Species {
		bars = append(bars, chart.Value{
			Label: s.DisplayName,
			Value: float64(s.Observations),
			Style: chart.Style{FillColor: countColor, StrokeColor: countColor},
		})
	}
	return barChart("Observations per Species", bars)
}

// Ranges is the second chart: approximate geographic range for species that
// have one.
func Ranges(sum stats.Summary) chart.BarChart {
	var bars []chart.Value
	for _, s := range sum.Species {
		if !s.HasRange {
			continue
		}
		bars = append(bars, chart.Value{
			Label: s.DisplayName,
			Value: s.RangeKm,
			Style: chart.Style{FillColor: rangeColor, StrokeColor: rangeColor},
		})
	}
	return barChart("Geographic Range per Species (km)", bars)
}

func barChart(title string, bars []chart.Value) chart.BarChart {
	maxValue := 0.0
	for _, b := range bars {
		maxValue = max(maxValue, b.Value)
	}
	if maxValue == 0 {
		maxValue = 1
	}

	return chart.BarChart{
		Title:      title,
		Background: chart.Style{Padding: chart.Box{Top: 48, Bottom: 120, Left: 16, Right: 16}},
		Width:      max(minWidth, len(bars)*(barWidth+barSpacing)+120),
		Height:     chartHeight,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		XAxis:      chart.Style{TextRotationDegrees: 45, FontSize: 8},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: maxValue * 1.1},
		},
		Bars: bars,
	}
}

// RenderObservationCounts writes the observation count chart.
func RenderObservationCounts(w io.Writer, sum stats.Summary) error {
	if len(sum.Species) == 0 {
		return ErrNoData
	}
	c := ObservationCounts(sum)
	return c.Render(chart.PNG, w)
}

// RenderRanges writes the geographic range chart.
func RenderRanges(w io.Writer, sum stats.Summary) error {
	if sum.SpeciesWithRange == 0 {
		return ErrNoData
	}
	c := Ranges(sum)
	return c.Render(chart.PNG, w)
}

// RenderSummary writes both charts side by side as one PNG. The range panel
// is left out when no species has a range.
func RenderSummary(w io.Writer, sum stats.Summary) error {
	var panels []image.Image

	var buf bytes.Buffer
	if err := RenderObservationCounts(&buf, sum); err != nil {
		return err
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return fmt.Errorf("decode counts chart: %w", err)
	}
	panels = append(panels, img)

	buf.Reset()
	switch err := RenderRanges(&buf, sum); {
	case errors.Is(err, ErrNoData):
	case err != nil:
		return err
	default:
		img, err := png.Decode(&buf)
		if err != nil {
			return fmt.Errorf("decode range chart: %w", err)
		}
		panels = append(panels, img)
	}

	return png.Encode(w, sideBySide(panels))
}

func sideBySide(panels []image.Image) image.Image {
	width, height := 0, 0
	for _, p := range panels {
		width += p.Bounds().Dx()
		height = max(height, p.Bounds().Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	x := 0
	for _, p := range panels {
		b := p.Bounds()
		dst := image.Rect(x, 0, x+b.Dx(), b.Dy())
		draw.Draw(out, dst, p, b.Min, draw.Over)
		x += b.Dx()
	}
	return out
}
