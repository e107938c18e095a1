package framebuffer

import (
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"fieldmap/internal/projection"
	"fieldmap/internal/tile"
)

type fakePosition struct {
	view      projection.Viewport
	animating bool
}

func (p *fakePosition) Viewport() projection.Viewport { return p.view }
func (p *fakePosition) ZoomAnimating() bool           { return p.animating }

// cornerView is a 512x512 view centred on the corner shared by tiles 511..512 at zoom 10.
func cornerView() projection.Viewport {
	c := 512.0 * tile.Size
	return projection.Viewport{
		Center: orb.Point{projection.PixelXToLon(c, 10), projection.PixelYToLat(c, 10)},
		Zoom:   10,
		Width:  512,
		Height: 512,
	}
}

func solid(x, y uint32, z maptile.Zoom, c color.RGBA) *tile.Bitmap {
	img := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &tile.Bitmap{Key: tile.NewKey("s", x, y, z, tile.Params{}), Image: img}
}

func newBuffer(pos *fakePosition) *FrameBuffer {
	f := New(pos)
	f.Resize(pos.view.Width, pos.view.Height)
	return f
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

var red = color.RGBA{R: 255, A: 255}

func TestDrawBitmapPlacesTile(t *testing.T) {
	pos := &fakePosition{view: cornerView()}
	f := newBuffer(pos)

	if !f.DrawBitmap(solid(512, 511, 10, red)) {
		t.Fatal("visible tile rejected")
	}
	img := f.Snapshot()
	if got := rgba(img, 300, 100); got != red {
		t.Errorf("top-right quadrant = %v", got)
	}
	if got := rgba(img, 100, 100); got != Background {
		t.Errorf("top-left quadrant = %v", got)
	}
}

func TestDrawBitmapRejectsStaleZoom(t *testing.T) {
	pos := &fakePosition{view: cornerView()}
	f := newBuffer(pos)

	if f.DrawBitmap(solid(255, 255, 9, red)) {
		t.Fatal("tile from zoom 9 accepted at zoom 10")
	}
	if got := rgba(f.Snapshot(), 10, 10); got != Background {
		t.Errorf("buffer modified: %v", got)
	}
}

func TestDrawBitmapRejectsDuringZoomAnimation(t *testing.T) {
	pos := &fakePosition{view: cornerView(), animating: true}
	f := newBuffer(pos)
	if f.DrawBitmap(solid(511, 511, 10, red)) {
		t.Fatal("tile accepted during zoom animation")
	}
}

func TestDrawBitmapRejectsOutsideView(t *testing.T) {
	pos := &fakePosition{view: cornerView()}
	f := newBuffer(pos)
	if f.DrawBitmap(solid(600, 600, 10, red)) {
		t.Fatal("tile outside the view accepted")
	}
	if New(pos).DrawBitmap(solid(511, 511, 10, red)) {
		t.Fatal("unsized buffer accepted a tile")
	}
}

func TestPendingTransformIsFlattened(t *testing.T) {
	pos := &fakePosition{view: cornerView()}
	f := newBuffer(pos)
	f.DrawBitmap(solid(511, 511, 10, red))

	// pan right by 100px before the next tile arrives
	f.MatrixPostTranslate(100, 0)
	if f.IsIdentity() {
		t.Fatal("translate left the matrix at identity")
	}
	moved := f.Snapshot()
	if got := rgba(moved, 300, 100); got != red {
		t.Errorf("transformed draw at (300,100) = %v", got)
	}

	blue := color.RGBA{B: 255, A: 255}
	if !f.DrawBitmap(solid(512, 512, 10, blue)) {
		t.Fatal("tile rejected")
	}
	if !f.IsIdentity() {
		t.Fatal("matrix not reset after drawing a tile")
	}

	img := f.Snapshot()
	if got := rgba(img, 300, 100); got != red {
		t.Errorf("flattened content at (300,100) = %v", got)
	}
	if got := rgba(img, 400, 400); got != blue {
		t.Errorf("new tile at (400,400) = %v", got)
	}
}

func TestMatrixComposition(t *testing.T) {
	f := New(&fakePosition{})
	f.MatrixPostTranslate(10, 20)
	f.MatrixPostScale(2, 2, 0, 0)

	x, y := Apply(f.Matrix(), 1, 1)
	if math.Abs(x-22) > 1e-9 || math.Abs(y-42) > 1e-9 {
		t.Errorf("translate then scale maps (1,1) to (%v,%v)", x, y)
	}

	f.Clear()
	if !f.IsIdentity() {
		t.Error("clear must reset the transform")
	}

	f.MatrixPostScale(2, 2, 100, 100)
	x, y = Apply(f.Matrix(), 100, 100)
	if x != 100 || y != 100 {
		t.Errorf("pivot moved to (%v,%v)", x, y)
	}
}

func TestResizeAndDestroy(t *testing.T) {
	f := New(&fakePosition{view: cornerView()})
	f.Resize(64, 32)
	if w, h := f.Size(); w != 64 || h != 32 {
		t.Fatalf("size = %dx%d", w, h)
	}
	f.Destroy()
	if w, h := f.Size(); w != 0 || h != 0 {
		t.Errorf("size after destroy = %dx%d", w, h)
	}
	if f.Snapshot().Bounds().Dx() != 0 {
		t.Error("snapshot of destroyed buffer should be empty")
	}
}

func TestUpdateHoldsOffDrawBitmap(t *testing.T) {
	pos := &fakePosition{view: cornerView()}
	f := newBuffer(pos)

	drawn := make(chan bool)
	f.Update(func(e Editor) {
		go func() { drawn <- f.DrawBitmap(solid(511, 511, 10, red)) }()
		select {
		case <-drawn:
			t.Error("tile drawn while the view was changing")
		case <-time.After(20 * time.Millisecond):
		}
		pos.view = pos.view.MoveBy(-128, 0)
		e.PostTranslate(128, 0)
	})
	if !<-drawn {
		t.Fatal("tile rejected")
	}

	// the tile lands where the moved view puts it: x 128..384
	img := f.Snapshot()
	if got := rgba(img, 130, 10); got != red {
		t.Errorf("pixel (130,10) = %v, want tile", got)
	}
	if got := rgba(img, 400, 10); got == red {
		t.Errorf("pixel (400,10) shows the tile shifted by the pan")
	}
}
