package tile

import (
	"image"
	"image/color"
	"testing"
)

func TestKeyEquality(t *testing.T) {
	a := NewKey("osm", 3, 5, 4, Params{TextScale: 1})
	b := NewKey("osm", 3, 5, 4, Params{TextScale: 1})
	c := NewKey("osm", 3, 5, 4, Params{Theme: "night", TextScale: 1})
	d := NewKey("osm", 3, 5, 4, Params{TextScale: 1.5})

	if a != b {
		t.Fatal("identical keys must be equal")
	}
	if a == c || a == d {
		t.Fatal("params must take part in key equality")
	}

	m := map[Key]int{a: 1}
	if _, ok := m[b]; !ok {
		t.Fatal("equal keys must hash to the same map entry")
	}
}

func TestKeyPixels(t *testing.T) {
	k := NewKey("s", 2, 7, 10, Params{})
	if k.PixelX() != 512 || k.PixelY() != 7*256 {
		t.Errorf("pixel origin = (%v, %v)", k.PixelX(), k.PixelY())
	}
	if k.Zoom() != 10 {
		t.Errorf("zoom = %d", k.Zoom())
	}
	if got := k.String(); got != "s/10/2/7/default@0" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewBitmapConverts(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 20, 20))
	src.Set(10, 10, color.NRGBA{R: 255, A: 255})

	bmp := NewBitmap(Key{}, src)
	if bmp.Image.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("bounds = %v", bmp.Image.Bounds())
	}
	if r, _, _, _ := bmp.Image.At(0, 0).RGBA(); r>>8 != 255 {
		t.Errorf("pixel not copied, r = %d", r>>8)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, Size, Size))
	if NewBitmap(Key{}, rgba).Image != rgba {
		t.Error("RGBA at origin should be used as is")
	}
}
