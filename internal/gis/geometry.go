package gis

import (
	"encoding/json"
	"fmt"
)

// Geometry represents a GeoJSON geometry. Coordinates stay raw so nesting
// depth is preserved without re-encoding.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ToJSON converts a geometry to its JSON string representation
func (g *Geometry) ToJSON() (string, error) {
	if g == nil {
		return "", fmt.Errorf("nil geometry")
	}
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EnsureMultiPolygon normalizes parcel geometry for a MultiPolygon column.
// A Polygon is wrapped in a single-element MultiPolygon, a MultiPolygon
// passes through, and anything else (points, lines, nil) becomes nil.
func EnsureMultiPolygon(g *Geometry) *Geometry {
	if g == nil {
		return nil
	}
	switch g.Type {
	case "MultiPolygon":
		return g
	case "Polygon":
		wrapped := make(json.RawMessage, 0, len(g.Coordinates)+2)
		wrapped = append(wrapped, '[')
		wrapped = append(wrapped, g.Coordinates...)
		wrapped = append(wrapped, ']')
		return &Geometry{Type: "MultiPolygon", Coordinates: wrapped}
	default:
		return nil
	}
}

// Centroid calculates the centroid of a polygon or multipolygon geometry
// from the exterior ring vertices. Used for sanity checks on feed data.
func Centroid(g *Geometry) (lat, lng float64, err error) {
	if g == nil {
		return 0, 0, fmt.Errorf("nil geometry")
	}

	var sumLng, sumLat float64
	var count int

	switch g.Type {
	case "Polygon":
		// Polygon has [[[lng, lat], ...]] structure
		var coords [][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return 0, 0, fmt.Errorf("parsing polygon coordinates: %w", err)
		}
		if len(coords) == 0 || len(coords[0]) == 0 {
			return 0, 0, fmt.Errorf("empty polygon")
		}
		for _, pt := range coords[0] {
			if len(pt) >= 2 {
				sumLng += pt[0]
				sumLat += pt[1]
				count++
			}
		}

	case "MultiPolygon":
		// MultiPolygon has [[[[lng, lat], ...]]] structure
		var coords [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return 0, 0, fmt.Errorf("parsing multipolygon coordinates: %w", err)
		}
		if len(coords) == 0 || len(coords[0]) == 0 {
			return 0, 0, fmt.Errorf("empty multipolygon")
		}
		// Use first polygon's exterior ring for centroid
		for _, pt := range coords[0][0] {
			if len(pt) >= 2 {
				sumLng += pt[0]
				sumLat += pt[1]
				count++
			}
		}

	default:
		return 0, 0, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}

	if count == 0 {
		return 0, 0, fmt.Errorf("no valid coordinates found")
	}

	return sumLat / float64(count), sumLng / float64(count), nil
}
