// Package coords extracts validated coordinates from loosely-typed observation
// records returned by the iNaturalist API.
package coords

import (
	"errors"
	"fmt"
)

// Valid coordinate ranges in decimal degrees.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Rejection reasons reported by Validate and ResolveDetailed.
var (
	ErrNoCoordinates            = errors.New("no coordinates")
	ErrInvalidRange             = errors.New("coordinates out of range")
	ErrSuspiciousNullCoordinate = errors.New("suspicious null coordinate (0,0)")
)

// RawObservation is a decoded JSON observation record. Nothing about its shape
// is trusted.
type RawObservation map[string]any

// LatLon is a latitude/longitude pair in decimal degrees.
type LatLon struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// GeoPoint is a validated observation location.
type GeoPoint struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ObservationID int64   `json:"observation_id"`
	ImageURL      string  `json:"image_url,omitempty"`
}

// NewGeoPoint builds a GeoPoint, rejecting pairs that fail Validate.
func NewGeoPoint(lat, lon float64, observationID int64, imageURL string) (GeoPoint, error) {
	if err := Validate(LatLon{Lat: lat, Lon: lon}); err != nil {
		return GeoPoint{}, fmt.Errorf("observation %d: %w", observationID, err)
	}
	return GeoPoint{
		Latitude:      lat,
		Longitude:     lon,
		ObservationID: observationID,
		ImageURL:      imageURL,
	}, nil
}

// LatLon returns the point's coordinates.
func (p GeoPoint) LatLon() LatLon {
	return LatLon{Lat: p.Latitude, Lon: p.Longitude}
}

// Validate checks the ranges and rejects the exact (0,0) pair, which GPS-less
// uploads commonly carry as a placeholder.
func Validate(c LatLon) error {
	// Negated comparisons so NaN is rejected too.
	if !(c.Lat >= MinLatitude && c.Lat <= MaxLatitude) ||
		!(c.Lon >= MinLongitude && c.Lon <= MaxLongitude) {
		return ErrInvalidRange
	}
	if c.Lat == 0 && c.Lon == 0 {
		return ErrSuspiciousNullCoordinate
	}
	return nil
}
