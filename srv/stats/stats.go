// Package stats folds per-species point sets into collection-wide statistics.
package stats

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/span"
	"wildspan.exe.dev/srv/store"
)

// DefaultParallelism bounds concurrent species loads in Collect.
const DefaultParallelism = 8

// SpeciesInput is what the fold needs from one species directory.
type SpeciesInput struct {
	Species       string
	CommonName    string
	MetadataFiles int
	Points        []coords.GeoPoint
}

// SpeciesStats are the statistics for one species.
type SpeciesStats struct {
	Species         string  `json:"species"`
	DisplayName     string  `json:"display_name"`
	CommonName      string  `json:"common_name,omitempty"`
	Observations    int     `json:"observations"`
	WithCoordinates int     `json:"with_coordinates"`
	Coverage        float64 `json:"coverage"`
	RangeKm         float64 `json:"range_km"`
	SpanKm          float64 `json:"span_km"`
	HasRange        bool    `json:"has_range"`
}

// Summary aggregates every species.
type Summary struct {
	Species              []SpeciesStats `json:"species"`
	TotalObservations    int            `json:"total_observations"`
	TotalWithCoordinates int            `json:"total_with_coordinates"`
	SpeciesWithRange     int            `json:"species_with_range"`
}

// Fold computes the summary. Species without metadata files are omitted.
// The result is ordered by species key.
func Fold(inputs []SpeciesInput) Summary {
	var sum Summary
	for _, in := range inputs {
		if in.MetadataFiles == 0 {
			continue
		}
		st := SpeciesStats{
			Species:         in.Species,
			DisplayName:     store.DisplayName(in.Species),
			CommonName:      in.CommonName,
			Observations:    in.MetadataFiles,
			WithCoordinates: len(in.Points),
		}
		st.Coverage = float64(st.WithCoordinates) / float64(st.Observations)
		if r, ok := span.DegreeRangeKm(in.Points); ok {
			st.RangeKm = r
			st.HasRange = true
			sum.SpeciesWithRange++
		}
		if res, ok := span.Summarize(in.Points); ok {
			st.SpanKm = res.MaxDistanceKm
		}

		sum.TotalObservations += st.Observations
		sum.TotalWithCoordinates += st.WithCoordinates
		sum.Species = append(sum.Species, st)
	}
	sort.Slice(sum.Species, func(i, j int) bool {
		return sum.Species[i].Species < sum.Species[j].Species
	})
	return sum
}

// Collect loads every species from the store and folds them.
func Collect(ctx context.Context, st *store.Store) (Summary, error) {
	species, err := st.ListSpecies()
	if err != nil {
		return Summary{}, err
	}

	inputs := make([]SpeciesInput, len(species))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultParallelism)

	for i, sp := range species {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := st.MetadataFiles(sp)
			if err != nil {
				return fmt.Errorf("species %s: %w", sp, err)
			}
			set, err := st.LoadPointSet(sp)
			if err != nil {
				return fmt.Errorf("species %s: %w", sp, err)
			}
			inputs[i] = SpeciesInput{
				Species:       sp,
				CommonName:    set.CommonName,
				MetadataFiles: len(files),
				Points:        set.Points,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return Fold(inputs), nil
}
