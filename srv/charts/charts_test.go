package charts

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"wildspan.exe.dev/srv/stats"
)

func sampleSummary() stats.Summary {
	return stats.Summary{
		Species: []stats.SpeciesStats{
			{Species: "Aves", DisplayName: "Aves", Observations: 3, WithCoordinates: 1},
			{Species: "Turdus_migratorius", DisplayName: "Turdus migratorius", Observations: 10,
				WithCoordinates: 8, RangeKm: 444, HasRange: true},
		},
		TotalObservations:    13,
		TotalWithCoordinates: 9,
		SpeciesWithRange:     1,
	}
}

func TestChartBars(t *testing.T) {
	sum := sampleSummary()

	counts := ObservationCounts(sum)
	if len(counts.Bars) != 2 || counts.Bars[1].Value != 10 || counts.Bars[1].Label != "Turdus migratorius" {
		t.Errorf("count bars = %+v", counts.Bars)
	}

	ranges := Ranges(sum)
	if len(ranges.Bars) != 1 || ranges.Bars[0].Value != 444 {
		t.Errorf("range bars = %+v", ranges.Bars)
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, sampleSummary()); err != nil {
		t.Fatalf("RenderSummary failed: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if img.Bounds().Dx() < 2*minWidth || img.Bounds().Dy() != chartHeight {
		t.Errorf("bounds = %v, want two panels side by side", img.Bounds())
	}
}

func TestRenderSummaryWithoutRanges(t *testing.T) {
	sum := sampleSummary()
	sum.Species = sum.Species[:1]
	sum.SpeciesWithRange = 0

	var buf bytes.Buffer
	if err := RenderSummary(&buf, sum); err != nil {
		t.Fatalf("RenderSummary failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != minWidth {
		t.Errorf("width = %d, want single panel %d", img.Bounds().Dx(), minWidth)
	}
}

func TestRenderNoData(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, stats.Summary{}); !errors.Is(err, ErrNoData) {
		t.Errorf("RenderSummary(empty) = %v, want ErrNoData", err)
	}
	if err := RenderRanges(&buf, stats.Summary{}); !errors.Is(err, ErrNoData) {
		t.Errorf("RenderRanges(empty) = %v, want ErrNoData", err)
	}
}
