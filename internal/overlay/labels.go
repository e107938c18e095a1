package overlay

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// labelPadding is the clearance kept around every placed label, in pixels.
const labelPadding = 10

type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether the interiors overlap. Touching edges do not count.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX < o.MaxX && o.MinX < r.MaxX && r.MinY < o.MaxY && o.MinY < r.MaxY
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

func (r Rect) Pad(d float64) Rect {
	return Rect{r.MinX - d, r.MinY - d, r.MaxX + d, r.MaxY + d}
}

func rectOf(b orb.Bound) Rect {
	return Rect{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

type LabelPlacement struct {
	Box       Rect
	Text      string
	FeatureID string
}

type placedLabel struct {
	LabelPlacement
}

func (l *placedLabel) Bounds() rtreego.Rect {
	return toRTree(l.Box)
}

func toRTree(r Rect) rtreego.Rect {
	const eps = 1e-6
	w := math.Max(r.MaxX-r.MinX, eps)
	h := math.Max(r.MaxY-r.MinY, eps)
	rect, _ := rtreego.NewRect(rtreego.Point{r.MinX, r.MinY}, []float64{w, h})
	return rect
}

// LabelIndex places labels first come first served, rejecting any label
// whose box overlaps one already placed. It lives for one render pass.
type LabelIndex struct {
	rtree  *rtreego.Rtree
	placed []LabelPlacement
}

func NewLabelIndex() *LabelIndex {
	return &LabelIndex{rtree: rtreego.NewTree(2, 25, 50)}
}

// TryPlace records the label if it does not collide and reports whether it did.
func (ix *LabelIndex) TryPlace(l LabelPlacement) bool {
	for _, c := range ix.rtree.SearchIntersect(toRTree(l.Box.Pad(1))) {
		if c.(*placedLabel).Box.Intersects(l.Box) {
			return false
		}
	}
	ix.rtree.Insert(&placedLabel{l})
	ix.placed = append(ix.placed, l)
	return true
}

func (ix *LabelIndex) Placed() []LabelPlacement {
	return ix.placed
}

// LabelBox returns the padded box of a label of size w x h anchored with its
// bottom centre at (x, y).
func LabelBox(x, y, w, h float64) Rect {
	left := x - w/2
	top := y - h
	return Rect{left, top, left + w, y}.Pad(labelPadding)
}

// Anchor picks where the label of a screen-space geometry goes: the
// centroid for points and polygons, an interior vertex for lines.
func Anchor(g orb.Geometry) (orb.Point, bool) {
	switch geom := g.(type) {
	case orb.Point:
		return geom, true
	case orb.MultiPoint, orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		c, _ := planar.CentroidArea(geom)
		if math.IsNaN(c.X()) || math.IsNaN(c.Y()) {
			return orb.Point{}, false
		}
		return c, true
	case orb.LineString:
		return interiorPoint(geom)
	case orb.MultiLineString:
		longest := orb.LineString(nil)
		for _, ls := range geom {
			if planar.Length(ls) > planar.Length(longest) {
				longest = ls
			}
		}
		return interiorPoint(longest)
	case orb.Collection:
		for _, member := range geom {
			if p, ok := Anchor(member); ok {
				return p, true
			}
		}
	}
	return orb.Point{}, false
}

// interiorPoint returns the interior vertex nearest the line's centroid,
// or the nearest endpoint for two-point lines.
func interiorPoint(ls orb.LineString) (orb.Point, bool) {
	switch len(ls) {
	case 0:
		return orb.Point{}, false
	case 1:
		return ls[0], true
	}

	c, _ := planar.CentroidArea(ls)
	candidates := ls[1 : len(ls)-1]
	if len(candidates) == 0 {
		candidates = ls
	}
	best := candidates[0]
	bestDist := planar.DistanceSquared(c, best)
	for _, p := range candidates[1:] {
		if d := planar.DistanceSquared(c, p); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, true
}
