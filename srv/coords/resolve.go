package coords

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Source names the representation a coordinate pair was read from.
type Source string

const (
	SourceFields   Source = "fields"
	SourceLocation Source = "location"
	SourceGeoJSON  Source = "geojson"
)

// Strategy extracts a coordinate pair from one representation. Extract reports
// false when the representation is missing or malformed.
type Strategy struct {
	Source  Source
	Extract func(raw RawObservation) (LatLon, bool)
}

// DefaultStrategies is the resolution order: direct fields, then the
// "lat,lon" location string, then the GeoJSON point.
var DefaultStrategies = []Strategy{
	{Source: SourceFields, Extract: fromFields},
	{Source: SourceLocation, Extract: fromLocation},
	{Source: SourceGeoJSON, Extract: fromGeoJSON},
}

// Resolution is the outcome of resolving one record.
type Resolution struct {
	Coord  LatLon
	OK     bool
	Source Source // empty when no strategy produced a pair
	Reason error  // nil when OK
}

// Resolve returns the record's validated coordinates, or false if it has none.
func Resolve(raw RawObservation) (LatLon, bool) {
	res := ResolveDetailed(raw)
	return res.Coord, res.OK
}

// ResolveDetailed runs DefaultStrategies and reports why a record was rejected.
func ResolveDetailed(raw RawObservation) Resolution {
	return ResolveWith(DefaultStrategies, raw)
}

// ResolveWith tries each strategy in order. The first pair produced is
// validated and returned; a rejected pair does not fall through to later
// strategies.
func ResolveWith(strategies []Strategy, raw RawObservation) Resolution {
	for _, s := range strategies {
		c, ok := s.Extract(raw)
		if !ok {
			continue
		}
		if err := Validate(c); err != nil {
			return Resolution{Source: s.Source, Reason: err}
		}
		return Resolution{Coord: c, OK: true, Source: s.Source}
	}
	return Resolution{Reason: ErrNoCoordinates}
}

func fromFields(raw RawObservation) (LatLon, bool) {
	lat, ok := toFloat(raw["latitude"])
	if !ok {
		return LatLon{}, false
	}
	lon, ok := toFloat(raw["longitude"])
	if !ok {
		return LatLon{}, false
	}
	return LatLon{Lat: lat, Lon: lon}, true
}

func fromLocation(raw RawObservation) (LatLon, bool) {
	loc, ok := raw["location"].(string)
	if !ok {
		return LatLon{}, false
	}
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return LatLon{}, false
	}
	lat, ok := parseFloat(parts[0])
	if !ok {
		return LatLon{}, false
	}
	lon, ok := parseFloat(parts[1])
	if !ok {
		return LatLon{}, false
	}
	return LatLon{Lat: lat, Lon: lon}, true
}

// fromGeoJSON reads geojson.coordinates, which GeoJSON orders [lon, lat].
func fromGeoJSON(raw RawObservation) (LatLon, bool) {
	geo, ok := raw["geojson"].(map[string]any)
	if !ok {
		return LatLon{}, false
	}
	pair, ok := geo["coordinates"].([]any)
	if !ok || len(pair) < 2 {
		return LatLon{}, false
	}
	lon, ok := toFloat(pair[0])
	if !ok {
		return LatLon{}, false
	}
	lat, ok := toFloat(pair[1])
	if !ok {
		return LatLon{}, false
	}
	return LatLon{Lat: lat, Lon: lon}, true
}

// toFloat coerces JSON-ish scalars to a finite float64.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		return parseFloat(n.String())
	case string:
		return parseFloat(n)
	default:
		return 0, false
	}
	return f, finite(f)
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
