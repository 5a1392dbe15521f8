package span

import (
	"math"

	"wildspan.exe.dev/srv/coords"
)

var compassPoints = []string{
	"north", "north-northeast", "northeast", "east-northeast",
	"east", "east-southeast", "southeast", "south-southeast",
	"south", "south-southwest", "southwest", "west-southwest",
	"west", "west-northwest", "northwest", "north-northwest",
}

// Bearing returns the initial great-circle bearing from p1 to p2 in degrees,
// normalized to [0, 360).
func Bearing(p1, p2 coords.LatLon) float64 {
	lat1 := degreesToRadians(p1.Lat)
	lat2 := degreesToRadians(p2.Lat)
	dLon := degreesToRadians(p2.Lon - p1.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

// Cardinal names the 16-point compass direction nearest to bearing.
func Cardinal(bearing float64) string {
	bearing = math.Mod(bearing, 360)
	if bearing < 0 {
		bearing += 360
	}
	return compassPoints[int(math.Floor((bearing+11.25)/22.5))%16]
}

// Axis returns the bearing from PointA to PointB and its compass name.
// ok is false when the result has no boundary pair.
func (r SpanResult) Axis() (bearing float64, direction string, ok bool) {
	if !r.HasBoundary() {
		return 0, "", false
	}
	bearing = Bearing(r.PointA.LatLon(), r.PointB.LatLon())
	return bearing, Cardinal(bearing), true
}
