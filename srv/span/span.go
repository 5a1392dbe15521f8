// Package span summarizes the geographic spread of one species' observations:
// centroid, furthest pair of points, and the great-circle distance between them.
package span

import (
	"math"

	"wildspan.exe.dev/srv/coords"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// SpanResult describes a point set's spatial extent.
// PointA and PointB are nil when fewer than two points were summarized.
type SpanResult struct {
	Centroid      coords.LatLon    `json:"centroid"`
	MaxDistanceKm float64          `json:"max_distance_km"`
	PointA        *coords.GeoPoint `json:"point_a,omitempty"`
	PointB        *coords.GeoPoint `json:"point_b,omitempty"`
	PointCount    int              `json:"point_count"`
}

// HasBoundary reports whether a furthest pair was found.
func (r SpanResult) HasBoundary() bool {
	return r.PointA != nil && r.PointB != nil
}

// Midpoint returns the planar midpoint of the furthest pair, used to center
// the span circle on the map. It falls back to the centroid.
func (r SpanResult) Midpoint() coords.LatLon {
	if !r.HasBoundary() {
		return r.Centroid
	}
	return coords.LatLon{
		Lat: (r.PointA.Latitude + r.PointB.Latitude) / 2,
		Lon: (r.PointA.Longitude + r.PointB.Longitude) / 2,
	}
}

// RadiusKm is half the span, the radius of the circle drawn around Midpoint.
func (r SpanResult) RadiusKm() float64 {
	return r.MaxDistanceKm / 2
}

// Summarize computes the centroid and the furthest pair of points.
// It returns false for an empty input.
//
// The centroid is a plain average of latitudes and longitudes, which is close
// enough for single-species ranges. Every unordered pair is compared once; the
// first pair reaching the maximum distance wins.
func Summarize(points []coords.GeoPoint) (SpanResult, bool) {
	if len(points) == 0 {
		return SpanResult{}, false
	}

	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Latitude
		sumLon += p.Longitude
	}
	n := float64(len(points))
	result := SpanResult{
		Centroid:   coords.LatLon{Lat: sumLat / n, Lon: sumLon / n},
		PointCount: len(points),
	}

	if len(points) < 2 {
		return result, true
	}

	bestI, bestJ := 0, 1
	maxDist := HaversineKm(points[0].LatLon(), points[1].LatLon())
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			d := HaversineKm(points[i].LatLon(), points[j].LatLon())
			if d > maxDist {
				maxDist = d
				bestI, bestJ = i, j
			}
		}
	}

	a, b := points[bestI], points[bestJ]
	result.MaxDistanceKm = maxDist
	result.PointA = &a
	result.PointB = &b
	return result, true
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(p1, p2 coords.LatLon) float64 {
	lat1 := degreesToRadians(p1.Lat)
	lat2 := degreesToRadians(p2.Lat)
	deltaLat := degreesToRadians(p2.Lat - p1.Lat)
	deltaLon := degreesToRadians(p2.Lon - p1.Lon)

	sinLat := math.Sin(deltaLat / 2)
	sinLon := math.Sin(deltaLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Rounding can push a a hair above 1 for antipodal points.
	a = math.Min(1, a)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
