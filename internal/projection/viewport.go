package projection

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"fieldmap/internal/tile"
)

// pixelEpsilon absorbs floating point drift from lon/lat round trips.
const pixelEpsilon = 1e-6

// Viewport is the visible window onto the map: a geographic centre at a zoom
// level, with the screen size in pixels.
type Viewport struct {
	Center orb.Point
	Zoom   maptile.Zoom
	Width  int
	Height int
}

// CenterPixel is the world pixel of the centre at the current zoom.
func (v Viewport) CenterPixel() (float64, float64) {
	return LonToPixelX(v.Center.Lon(), v.Zoom), LatToPixelY(v.Center.Lat(), v.Zoom)
}

// TopLeft is the world pixel shown at screen (0, 0).
func (v Viewport) TopLeft() (float64, float64) {
	cx, cy := v.CenterPixel()
	return cx - float64(v.Width)/2, cy - float64(v.Height)/2
}

// TileRange returns the inclusive tile index range covering the view. The
// right and bottom screen edges are exclusive, so a view aligned on tile
// boundaries does not pull in the neighbouring row or column.
func (v Viewport) TileRange() (minX, minY, maxX, maxY uint32) {
	left, top := v.TopLeft()
	right := left + float64(v.Width)
	bottom := top + float64(v.Height)

	minX = PixelToTile(left+pixelEpsilon, v.Zoom)
	minY = PixelToTile(top+pixelEpsilon, v.Zoom)
	maxX = PixelToTile(right-pixelEpsilon, v.Zoom)
	maxY = PixelToTile(bottom-pixelEpsilon, v.Zoom)
	if maxX < minX {
		maxX = minX
	}
	if maxY < minY {
		maxY = minY
	}
	return minX, minY, maxX, maxY
}

// VisibleTiles lists the tiles covering the view, row by row.
func (v Viewport) VisibleTiles() []maptile.Tile {
	if v.Width <= 0 || v.Height <= 0 {
		return nil
	}
	minX, minY, maxX, maxY := v.TileRange()
	tiles := make([]maptile.Tile, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, maptile.New(x, y, v.Zoom))
		}
	}
	return tiles
}

// ToPixels maps a WGS84 point to screen pixels.
func (v Viewport) ToPixels(p orb.Point) (float64, float64) {
	left, top := v.TopLeft()
	return LonToPixelX(p.Lon(), v.Zoom) - left, LatToPixelY(p.Lat(), v.Zoom) - top
}

// FromPixels maps screen pixels back to a WGS84 point.
func (v Viewport) FromPixels(x, y float64) orb.Point {
	left, top := v.TopLeft()
	return orb.Point{PixelXToLon(left+x, v.Zoom), PixelYToLat(top+y, v.Zoom)}
}

// Bound is the WGS84 envelope of the view.
func (v Viewport) Bound() orb.Bound {
	nw := v.FromPixels(0, 0)
	se := v.FromPixels(float64(v.Width), float64(v.Height))
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}

// Intersects reports whether the tile overlaps the screen.
func (v Viewport) Intersects(t maptile.Tile) bool {
	if t.Z != v.Zoom {
		return false
	}
	left, top := v.TopLeft()
	tx := float64(t.X) * tile.Size
	ty := float64(t.Y) * tile.Size
	return tx < left+float64(v.Width)-pixelEpsilon && tx+tile.Size > left+pixelEpsilon &&
		ty < top+float64(v.Height)-pixelEpsilon && ty+tile.Size > top+pixelEpsilon
}

// MoveBy shifts the centre by a screen offset in pixels.
func (v Viewport) MoveBy(dx, dy float64) Viewport {
	cx, cy := v.CenterPixel()
	size := MapSize(v.Zoom)
	cx = math.Mod(cx+dx+size, size)
	cy = math.Max(0, math.Min(size, cy+dy))
	v.Center = orb.Point{PixelXToLon(cx, v.Zoom), PixelYToLat(cy, v.Zoom)}
	return v
}

func (v Viewport) MetersPerPixel() float64 {
	return MetersPerPixel(v.Center.Lat(), v.Zoom)
}
