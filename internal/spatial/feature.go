// Package spatial provides the feature stores the vector overlay queries by
// envelope, together with their per-table styles.
package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
)

type GeometryType int

const (
	Unknown GeometryType = iota
	Point
	Line
	Polygon
	Collection
)

func (t GeometryType) String() string {
	switch t {
	case Point:
		return "point"
	case Line:
		return "line"
	case Polygon:
		return "polygon"
	case Collection:
		return "collection"
	default:
		return "unknown"
	}
}

func ParseGeometryType(s string) GeometryType {
	switch s {
	case "point", "multipoint":
		return Point
	case "line", "linestring", "multilinestring":
		return Line
	case "polygon", "multipolygon":
		return Polygon
	case "collection", "geometrycollection":
		return Collection
	default:
		return Unknown
	}
}

// TypeOf classifies an orb geometry.
func TypeOf(g orb.Geometry) GeometryType {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return Point
	case orb.LineString, orb.MultiLineString:
		return Line
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return Polygon
	case orb.Collection:
		return Collection
	default:
		return Unknown
	}
}

type Feature struct {
	ID         int64
	Geometry   orb.Geometry
	Attributes map[string]interface{}
}

func (f Feature) Type() GeometryType {
	return TypeOf(f.Geometry)
}

// Attr returns an attribute formatted as text, or "" when missing.
func (f Feature) Attr(name string) string {
	if name == "" {
		return ""
	}
	v, ok := f.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := v.(float64); ok && n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprint(v)
}
