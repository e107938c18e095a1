// Package framebuffer keeps the composited base map. Tiles are blitted into
// a front buffer; pans and zooms that happen before new tiles arrive are
// accumulated in an affine transform and applied lazily.
package framebuffer

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"fieldmap/internal/projection"
	"fieldmap/internal/tile"
)

// Background is the colour of areas without tiles.
var Background = color.RGBA{238, 238, 238, 255}

// Position reports the view state the buffer is drawing for.
type Position interface {
	Viewport() projection.Viewport
	ZoomAnimating() bool
}

type FrameBuffer struct {
	mu     sync.Mutex
	pos    Position
	width  int
	height int
	front  *image.RGBA
	back   *image.RGBA
	matrix f64.Aff3
}

func New(pos Position) *FrameBuffer {
	return &FrameBuffer{pos: pos, matrix: identity}
}

// Resize reallocates both buffers. Content is lost.
func (f *FrameBuffer) Resize(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if width <= 0 || height <= 0 {
		f.width, f.height = 0, 0
		f.front, f.back = nil, nil
		return
	}
	f.width, f.height = width, height
	f.front = image.NewRGBA(image.Rect(0, 0, width, height))
	f.back = image.NewRGBA(image.Rect(0, 0, width, height))
	fill(f.front)
	fill(f.back)
	f.matrix = identity
}

func fill(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), &image.Uniform{Background}, image.Point{}, draw.Src)
}

// DrawBitmap blits a finished tile. It returns false when the tile does not
// belong to the current zoom, a zoom animation is running, or the tile is
// outside the view.
func (f *FrameBuffer) DrawBitmap(bmp *tile.Bitmap) bool {
	if bmp == nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.front == nil || f.pos.ZoomAnimating() {
		return false
	}
	view := f.pos.Viewport()
	if bmp.Key.Tile.Z != view.Zoom {
		return false
	}
	view.Width, view.Height = f.width, f.height
	if !view.Intersects(bmp.Key.Tile) {
		return false
	}

	if !isIdentity(f.matrix) {
		f.flattenLocked()
	}

	left, top := view.TopLeft()
	x := int(math.Round(bmp.Key.PixelX() - left))
	y := int(math.Round(bmp.Key.PixelY() - top))
	r := image.Rect(x, y, x+bmp.Image.Bounds().Dx(), y+bmp.Image.Bounds().Dy())
	draw.Draw(f.front, r, bmp.Image, bmp.Image.Bounds().Min, draw.Src)
	return true
}

// flattenLocked bakes the pending transform into the front buffer.
func (f *FrameBuffer) flattenLocked() {
	fill(f.back)
	xdraw.BiLinear.Transform(f.back, f.matrix, f.front, f.front.Bounds(), xdraw.Over, nil)
	f.matrix = identity
	f.front, f.back = f.back, f.front
}

// MatrixPostTranslate appends a translation by (dx, dy) screen pixels.
func (f *FrameBuffer) MatrixPostTranslate(dx, dy float64) {
	f.Update(func(e Editor) { e.PostTranslate(dx, dy) })
}

// MatrixPostScale appends a scale around the pivot (px, py).
func (f *FrameBuffer) MatrixPostScale(sx, sy, px, py float64) {
	f.Update(func(e Editor) { e.PostScale(sx, sy, px, py) })
}

// Editor changes the buffer from inside Update.
type Editor struct {
	f *FrameBuffer
}

func (e Editor) PostTranslate(dx, dy float64) {
	e.f.matrix = mul(translate(dx, dy), e.f.matrix)
}

func (e Editor) PostScale(sx, sy, px, py float64) {
	e.f.matrix = mul(scaleAbout(sx, sy, px, py), e.f.matrix)
}

func (e Editor) Clear() {
	e.f.clearLocked()
}

func (e Editor) Size() (int, int) {
	return e.f.width, e.f.height
}

// Update runs fn with the buffer locked. A view change made inside fn
// together with its transform is never observed halfway by DrawBitmap.
// fn may lock the Position, but nothing holding the Position lock may
// call Update.
func (f *FrameBuffer) Update(fn func(e Editor)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(Editor{f: f})
}

func (f *FrameBuffer) Matrix() f64.Aff3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matrix
}

func (f *FrameBuffer) IsIdentity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return isIdentity(f.matrix)
}

// Clear erases the content and drops any pending transform.
func (f *FrameBuffer) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearLocked()
}

func (f *FrameBuffer) clearLocked() {
	if f.front != nil {
		fill(f.front)
		fill(f.back)
	}
	f.matrix = identity
}

// Draw renders the front buffer through the current transform into dst.
func (f *FrameBuffer) Draw(dst draw.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.front == nil {
		return
	}
	if isIdentity(f.matrix) {
		draw.Draw(dst, dst.Bounds(), f.front, image.Point{}, draw.Src)
		return
	}
	draw.Draw(dst, dst.Bounds(), &image.Uniform{Background}, image.Point{}, draw.Src)
	xdraw.BiLinear.Transform(dst, f.matrix, f.front, f.front.Bounds(), xdraw.Over, nil)
}

// Snapshot returns a copy of what Draw would produce.
func (f *FrameBuffer) Snapshot() *image.RGBA {
	f.mu.Lock()
	w, h := f.width, f.height
	f.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	f.Draw(img)
	return img
}

func (f *FrameBuffer) Size() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height
}

// Destroy releases the buffers.
func (f *FrameBuffer) Destroy() {
	f.Resize(0, 0)
}
