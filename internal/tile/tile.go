// Package tile holds the value types shared by the rendering pipeline:
// tile keys, rendering parameters, rendered bitmaps and generation jobs.
package tile

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/paulmach/orb/maptile"
)

// Size is the edge length of a tile in pixels.
const Size = 256

// Params are rendering parameters that take part in key equality.
// Changing any of them makes previously cached tiles unreachable.
type Params struct {
	Theme     string
	TextScale float64
}

func (p Params) String() string {
	theme := p.Theme
	if theme == "" {
		theme = "default"
	}
	return fmt.Sprintf("%s@%g", theme, p.TextScale)
}

// Key identifies one rendered tile. It is comparable and used directly as a map key.
type Key struct {
	Source string
	Tile   maptile.Tile
	Params Params
}

func NewKey(source string, x, y uint32, z maptile.Zoom, params Params) Key {
	return Key{
		Source: source,
		Tile:   maptile.New(x, y, z),
		Params: params,
	}
}

func (k Key) Zoom() maptile.Zoom {
	return k.Tile.Z
}

// PixelX is the world pixel of the tile's left edge at its zoom.
func (k Key) PixelX() float64 {
	return float64(k.Tile.X) * Size
}

// PixelY is the world pixel of the tile's top edge at its zoom.
func (k Key) PixelY() float64 {
	return float64(k.Tile.Y) * Size
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d/%s", k.Source, k.Tile.Z, k.Tile.X, k.Tile.Y, k.Params)
}

// Bitmap is a rendered tile. The image must not be modified once the bitmap
// has been handed to a cache.
type Bitmap struct {
	Key   Key
	Image *image.RGBA
}

// NewBitmap wraps img, converting to RGBA when needed.
func NewBitmap(key Key, img image.Image) *Bitmap {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Bitmap{Key: key, Image: rgba}
}

// Job is a pending tile generation request.
type Job struct {
	Key       Key
	Priority  float64
	Submitted time.Time
}

func NewJob(key Key) Job {
	return Job{Key: key, Submitted: time.Now()}
}
