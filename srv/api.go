package srv

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/span"
	"wildspan.exe.dev/srv/stats"
	"wildspan.exe.dev/srv/store"
)

// GeoJSON types for API responses

// GeoJSONFeatureCollection represents a GeoJSON FeatureCollection.
type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// GeoJSONFeature represents a single GeoJSON feature.
type GeoJSONFeature struct {
	Type       string          `json:"type"`
	Geometry   GeoJSONGeometry `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// GeoJSONGeometry represents a GeoJSON geometry.
type GeoJSONGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func pointFeature(lat, lon float64, props map[string]any) GeoJSONFeature {
	return GeoJSONFeature{
		Type:       "Feature",
		Geometry:   GeoJSONGeometry{Type: "Point", Coordinates: []float64{lon, lat}},
		Properties: props,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loadPointSet resolves the {name} path value and loads its points, writing
// the error response itself when it returns false.
func (s *Server) loadPointSet(w http.ResponseWriter, r *http.Request) (store.PointSet, bool) {
	species := r.PathValue("name")
	set, err := s.Store.LoadPointSet(species)
	switch {
	case errors.Is(err, store.ErrInvalidSpecies):
		writeJSONError(w, http.StatusBadRequest, "invalid species")
		return set, false
	case errors.Is(err, fs.ErrNotExist):
		writeJSONError(w, http.StatusNotFound, "species not found")
		return set, false
	case err != nil:
		slog.Error("load point set", "species", species, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load species")
		return set, false
	}
	return set, true
}

type speciesSummary struct {
	Species         string `json:"species"`
	DisplayName     string `json:"display_name"`
	CommonName      string `json:"common_name,omitempty"`
	Observations    int    `json:"observations"`
	WithCoordinates int    `json:"with_coordinates"`
}

// HandleAPISpecies lists species folders, with catalog counts when the
// species has been indexed.
func (s *Server) HandleAPISpecies(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Store.ListSpecies()
	if err != nil {
		slog.Error("list species", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list species")
		return
	}

	counts := map[string]catalog.SpeciesCount{}
	if rows, err := s.Catalog.SpeciesCounts(r.Context()); err != nil {
		slog.Warn("species counts unavailable", "error", err)
	} else {
		for _, c := range rows {
			counts[c.Species] = c
		}
	}

	out := make([]speciesSummary, 0, len(keys))
	for _, k := range keys {
		c := counts[k]
		out = append(out, speciesSummary{
			Species:         k,
			DisplayName:     store.DisplayName(k),
			CommonName:      c.CommonName,
			Observations:    c.Observations,
			WithCoordinates: c.WithCoordinates,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, http.StatusOK, out)
}

// HandleAPISpeciesObservations returns the validated points of a species as
// a GeoJSON FeatureCollection.
func (s *Server) HandleAPISpeciesObservations(w http.ResponseWriter, r *http.Request) {
	set, ok := s.loadPointSet(w, r)
	if !ok {
		return
	}

	features := make([]GeoJSONFeature, 0, len(set.Points))
	for _, p := range set.Points {
		features = append(features, pointFeature(p.Latitude, p.Longitude, map[string]any{
			"observation_id": p.ObservationID,
			"image_url":      p.ImageURL,
		}))
	}
	writeJSON(w, http.StatusOK, GeoJSONFeatureCollection{Type: "FeatureCollection", Features: features})
}

type spanResponse struct {
	Species     string                   `json:"species"`
	DisplayName string                   `json:"display_name"`
	CommonName  string                   `json:"common_name,omitempty"`
	Span        span.SpanResult          `json:"span"`
	Midpoint    coords.LatLon            `json:"midpoint"`
	RadiusKm    float64                  `json:"radius_km"`
	Axis        *spanAxis                `json:"axis,omitempty"`
	GeoJSON     GeoJSONFeatureCollection `json:"geojson"`
}

// HandleAPISpeciesSpan returns the centroid and furthest pair of a species.
// 404 when the species has no usable coordinates.
func (s *Server) HandleAPISpeciesSpan(w http.ResponseWriter, r *http.Request) {
	set, ok := s.loadPointSet(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	res, hit := s.SpanCache.Get(ctx, set.Species, set.Points)
	if !hit {
		var ok bool
		res, ok = span.Summarize(set.Points)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "species has no observations with coordinates")
			return
		}
		s.SpanCache.Put(ctx, set.Species, set.Points, res)
	}

	writeJSON(w, http.StatusOK, spanResponse{
		Species:     set.Species,
		DisplayName: store.DisplayName(set.Species),
		CommonName:  set.CommonName,
		Span:        res,
		Midpoint:    res.Midpoint(),
		RadiusKm:    res.RadiusKm(),
		Axis:        axisOf(res),
		GeoJSON:     spanFeatures(res),
	})
}

type spanAxis struct {
	BearingDeg float64 `json:"bearing_deg"`
	Direction  string  `json:"direction"`
}

func axisOf(res span.SpanResult) *spanAxis {
	bearing, dir, ok := res.Axis()
	if !ok {
		return nil
	}
	return &spanAxis{BearingDeg: bearing, Direction: dir}
}

// spanFeatures draws the centroid, the two boundary points and the line
// between them.
func spanFeatures(res span.SpanResult) GeoJSONFeatureCollection {
	fc := GeoJSONFeatureCollection{Type: "FeatureCollection", Features: []GeoJSONFeature{
		pointFeature(res.Centroid.Lat, res.Centroid.Lon, map[string]any{
			"role":        "centroid",
			"point_count": res.PointCount,
		}),
	}}
	if !res.HasBoundary() {
		return fc
	}
	for _, p := range []*coords.GeoPoint{res.PointA, res.PointB} {
		fc.Features = append(fc.Features, pointFeature(p.Latitude, p.Longitude, map[string]any{
			"role":           "boundary",
			"observation_id": p.ObservationID,
			"image_url":      p.ImageURL,
		}))
	}
	fc.Features = append(fc.Features, GeoJSONFeature{
		Type: "Feature",
		Geometry: GeoJSONGeometry{Type: "LineString", Coordinates: [][]float64{
			{res.PointA.Longitude, res.PointA.Latitude},
			{res.PointB.Longitude, res.PointB.Latitude},
		}},
		Properties: map[string]any{
			"role":            "span",
			"max_distance_km": res.MaxDistanceKm,
		},
	})
	return fc
}

// HandleAPIStats returns collection-wide statistics.
func (s *Server) HandleAPIStats(w http.ResponseWriter, r *http.Request) {
	sum, err := stats.Collect(r.Context(), s.Store)
	if err != nil {
		slog.Error("failed to collect stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	if sum.Species == nil {
		sum.Species = []stats.SpeciesStats{}
	}

	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, http.StatusOK, sum)
}

// HandleAPIRuns lists the latest fetch runs.
func (s *Server) HandleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Catalog.Runs(r.Context(), 20)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "database error")
		return
	}
	if runs == nil {
		runs = []catalog.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleAPIActivity returns recently downloaded observations.
func (s *Server) HandleAPIActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Catalog.Recent(r.Context(), 10)
	if err != nil {
		slog.Error("failed to get activity", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "database error")
		return
	}

	activities := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		activity := map[string]any{
			"observation_id": e.ID,
			"date":           e.FetchedAt.Format("Jan 02"),
			"species":        store.DisplayName(e.Species),
			"common_name":    e.CommonName,
		}
		// Include coordinates if available
		if e.HasCoordinates && e.Latitude != nil && e.Longitude != nil {
			activity["lat"] = *e.Latitude
			activity["lon"] = *e.Longitude
		}
		activities = append(activities, activity)
	}
	writeJSON(w, http.StatusOK, activities)
}
