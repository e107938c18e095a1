package projection

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID is an EPSG spatial reference identifier.
type SRID int

const (
	WGS84       SRID = 4326
	WebMercator SRID = 3857
)

func (s SRID) projectionTo(to SRID) (orb.Projection, error) {
	switch {
	case s == WGS84 && to == WebMercator:
		return project.WGS84.ToMercator, nil
	case s == WebMercator && to == WGS84:
		return project.Mercator.ToWGS84, nil
	}
	return nil, fmt.Errorf("unsupported reprojection %d -> %d", s, to)
}

// ReprojectBound converts an envelope between reference systems by projecting its corners.
func ReprojectBound(b orb.Bound, from, to SRID) (orb.Bound, error) {
	if from == to {
		return b, nil
	}
	proj, err := from.projectionTo(to)
	if err != nil {
		return b, err
	}
	min := proj(b.Min)
	max := proj(b.Max)
	return orb.Bound{Min: min, Max: min}.Extend(max), nil
}

// ReprojectGeometry returns a reprojected copy of g.
func ReprojectGeometry(g orb.Geometry, from, to SRID) (orb.Geometry, error) {
	if from == to || g == nil {
		return g, nil
	}
	proj, err := from.projectionTo(to)
	if err != nil {
		return nil, err
	}
	return project.Geometry(orb.Clone(g), proj), nil
}
