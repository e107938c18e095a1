package overlay

import (
	"image/color"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"

	"fieldmap/internal/projection"
	"fieldmap/internal/spatial"
)

var (
	defaultFill   = color.NRGBA{R: 255, A: 77}
	defaultStroke = color.NRGBA{A: 255}
	haloColor     = color.NRGBA{R: 255, G: 255, B: 255, A: 200}
)

var haloOffsets = [][2]float64{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// clipMargin keeps strokes and point symbols at the screen edge intact.
const clipMargin = 64

// paint resolves a style colour, falling back to fallback when it cannot be parsed.
func paint(name string, alpha float64, fallback color.NRGBA) color.Color {
	c, err := spatial.ParseColor(name)
	if err != nil {
		return fallback
	}
	return spatial.WithAlpha(c, alpha)
}

// ToScreen projects a WGS84 geometry into screen pixels of view.
func ToScreen(view projection.Viewport, g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		x, y := view.ToPixels(p)
		return orb.Point{x, y}
	})
}

// prepare projects, decimates and clips a geometry for drawing.
// It returns nil when nothing is left on screen.
func prepare(view projection.Viewport, g orb.Geometry, st *spatial.Style) orb.Geometry {
	g = ToScreen(view, g)
	if st.Decimation > 0 {
		if _, isPoint := g.(orb.Point); !isPoint {
			g = simplify.DouglasPeucker(st.Decimation).Simplify(g)
		}
	}
	screen := orb.Bound{
		Min: orb.Point{-clipMargin, -clipMargin},
		Max: orb.Point{float64(view.Width) + clipMargin, float64(view.Height) + clipMargin},
	}
	if g == nil || !g.Bound().Intersects(screen) {
		return nil
	}
	return clip.Geometry(screen, g)
}

// DrawGeometry draws a screen-space geometry. Points and polygons are filled
// then stroked, lines are stroked only. Collections are drawn per member.
func DrawGeometry(dc *gg.Context, g orb.Geometry, st *spatial.Style) {
	switch geom := g.(type) {
	case orb.Point:
		drawPoint(dc, geom, st)
	case orb.MultiPoint:
		for _, p := range geom {
			drawPoint(dc, p, st)
		}
	case orb.LineString:
		drawLine(dc, geom, st)
	case orb.MultiLineString:
		for _, ls := range geom {
			drawLine(dc, ls, st)
		}
	case orb.Ring:
		drawPolygon(dc, orb.Polygon{geom}, st)
	case orb.Polygon:
		drawPolygon(dc, geom, st)
	case orb.MultiPolygon:
		for _, p := range geom {
			drawPolygon(dc, p, st)
		}
	case orb.Bound:
		drawPolygon(dc, geom.ToPolygon(), st)
	case orb.Collection:
		for _, member := range geom {
			DrawGeometry(dc, member, st)
		}
	}
}

func setStroke(dc *gg.Context, st *spatial.Style) {
	dc.SetColor(paint(st.StrokeColor, st.StrokeAlpha, defaultStroke))
	width := st.Width
	if width <= 0 {
		width = 1
	}
	dc.SetLineWidth(width)
	if dashes := st.Dashes(); dashes != nil {
		dc.SetDash(dashes...)
	} else {
		dc.SetDash()
	}
}

func drawPoint(dc *gg.Context, p orb.Point, st *spatial.Style) {
	size := st.Size
	if size <= 0 {
		size = 5
	}
	x, y := p.X(), p.Y()
	half := size / 2

	switch st.Shape {
	case "cross", "x":
		dc.MoveTo(x-half, y-half)
		dc.LineTo(x+half, y+half)
		dc.MoveTo(x-half, y+half)
		dc.LineTo(x+half, y-half)
		setStroke(dc, st)
		dc.Stroke()
		return
	case "circle":
		dc.DrawCircle(x, y, half)
	case "triangle":
		dc.DrawRegularPolygon(3, x, y, half, 0)
	default:
		dc.DrawRectangle(x-half, y-half, size, size)
	}

	dc.SetColor(paint(st.FillColor, st.FillAlpha, defaultFill))
	dc.FillPreserve()
	setStroke(dc, st)
	dc.Stroke()
}

func drawLine(dc *gg.Context, ls orb.LineString, st *spatial.Style) {
	if len(ls) < 2 {
		return
	}
	dc.NewSubPath()
	dc.MoveTo(ls[0].X(), ls[0].Y())
	for _, p := range ls[1:] {
		dc.LineTo(p.X(), p.Y())
	}
	setStroke(dc, st)
	dc.Stroke()
}

func drawPolygon(dc *gg.Context, poly orb.Polygon, st *spatial.Style) {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return
	}
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		dc.NewSubPath()
		dc.MoveTo(ring[0].X(), ring[0].Y())
		for _, p := range ring[1:] {
			dc.LineTo(p.X(), p.Y())
		}
		dc.ClosePath()
	}
	dc.SetFillRuleEvenOdd()
	dc.SetColor(paint(st.FillColor, st.FillAlpha, defaultFill))
	dc.FillPreserve()
	setStroke(dc, st)
	dc.Stroke()
}
