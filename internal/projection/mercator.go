// Package projection converts between geographic coordinates, world pixels
// and tile indices for the spherical Mercator tile grid.
package projection

import (
	"math"

	"github.com/paulmach/orb/maptile"

	"fieldmap/internal/tile"
)

const (
	MaxLatitude  = 85.05112877980659
	earthRadius  = 6378137.0
	earthCircumf = 2 * math.Pi * earthRadius
)

// MapSize is the world size in pixels at zoom z.
func MapSize(z maptile.Zoom) float64 {
	return float64(uint64(tile.Size) << uint(z))
}

func LonToPixelX(lon float64, z maptile.Zoom) float64 {
	return (lon + 180) / 360 * MapSize(z)
}

func LatToPixelY(lat float64, z maptile.Zoom) float64 {
	lat = clampLat(lat)
	sinLat := math.Sin(lat * math.Pi / 180)
	y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)
	return y * MapSize(z)
}

func PixelXToLon(px float64, z maptile.Zoom) float64 {
	return px/MapSize(z)*360 - 180
}

func PixelYToLat(py float64, z maptile.Zoom) float64 {
	y := 0.5 - py/MapSize(z)
	return 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi
}

// PixelToTile returns the tile index covering world pixel p, clamped to the grid.
func PixelToTile(p float64, z maptile.Zoom) uint32 {
	max := float64(uint64(1)<<uint(z)) - 1
	t := math.Floor(p / tile.Size)
	if t < 0 {
		return 0
	}
	if t > max {
		return uint32(max)
	}
	return uint32(t)
}

// MetersPerPixel is the ground resolution at lat for zoom z.
func MetersPerPixel(lat float64, z maptile.Zoom) float64 {
	return math.Cos(clampLat(lat)*math.Pi/180) * earthCircumf / MapSize(z)
}

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}
