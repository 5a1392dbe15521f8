package span

import (
	"math"

	"wildspan.exe.dev/srv/coords"
)

// KmPerDegree is the approximate km per degree of latitude/longitude.
// This is a simplified conversion; actual value varies by latitude.
const KmPerDegree = 111.0

// BoundingBox is the latitude/longitude envelope of a point set.
type BoundingBox struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Bounds returns the bounding box of points, or false if there are none.
func Bounds(points []coords.GeoPoint) (BoundingBox, bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}

	bbox := BoundingBox{
		LatMin: points[0].Latitude,
		LatMax: points[0].Latitude,
		LonMin: points[0].Longitude,
		LonMax: points[0].Longitude,
	}
	for _, p := range points[1:] {
		bbox.LatMin = math.Min(bbox.LatMin, p.Latitude)
		bbox.LatMax = math.Max(bbox.LatMax, p.Latitude)
		bbox.LonMin = math.Min(bbox.LonMin, p.Longitude)
		bbox.LonMax = math.Max(bbox.LonMax, p.Longitude)
	}
	return bbox, true
}

// DegreeRangeKm is the rough range estimate used by the summary charts: the
// larger of the latitude and longitude extents converted with KmPerDegree.
// It needs at least two points.
func DegreeRangeKm(points []coords.GeoPoint) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	bbox, _ := Bounds(points)
	latRange := bbox.LatMax - bbox.LatMin
	lonRange := bbox.LonMax - bbox.LonMin
	return math.Max(latRange, lonRange) * KmPerDegree, true
}
