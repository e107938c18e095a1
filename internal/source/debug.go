package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"fieldmap/internal/tile"
)

// DebugSource renders tiles showing their own coordinates. It needs no data
// and is the fallback when no map is configured.
type DebugSource struct {
	maxZoom maptile.Zoom
}

func NewDebugSource() *DebugSource {
	return &DebugSource{maxZoom: 22}
}

func (s *DebugSource) ID() string {
	return "debug"
}

func (s *DebugSource) ZoomRange() (maptile.Zoom, maptile.Zoom) {
	return 0, s.maxZoom
}

func (s *DebugSource) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	if err := checkZoom(s, key); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))

	bg := color.RGBA{200, 220, 255, 255}
	if (key.Tile.X+key.Tile.Y)%2 == 1 {
		bg = color.RGBA{215, 230, 255, 255}
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	border := color.RGBA{100, 100, 100, 255}
	for _, rect := range []image.Rectangle{
		image.Rect(0, 0, tile.Size, 1),
		image.Rect(0, tile.Size-1, tile.Size, tile.Size),
		image.Rect(0, 0, 1, tile.Size),
		image.Rect(tile.Size-1, 0, tile.Size, tile.Size),
	} {
		draw.Draw(img, rect, &image.Uniform{border}, image.Point{}, draw.Src)
	}

	drawLabel(img, fmt.Sprintf("%d/%d/%d", key.Tile.Z, key.Tile.X, key.Tile.Y))
	if key.Params.Theme != "" {
		drawLabelAt(img, key.Params.Theme, 150)
	}

	return &tile.Bitmap{Key: key, Image: img}, nil
}

func drawLabel(img *image.RGBA, text string) {
	drawLabelAt(img, text, 120)
}

func drawLabelAt(img *image.RGBA, text string, centreY int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	textWidth := d.MeasureString(text).Round()
	textHeight := face.Metrics().Height.Round()

	padding := 6
	bgRect := image.Rect(
		(tile.Size-textWidth)/2-padding,
		centreY-textHeight/2-padding,
		(tile.Size+textWidth)/2+padding,
		centreY+textHeight/2+padding,
	)
	draw.Draw(img, bgRect, &image.Uniform{color.RGBA{255, 255, 255, 220}}, image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I((tile.Size - textWidth) / 2),
		Y: fixed.I(centreY + textHeight/2),
	}
	d.DrawString(text)
}

func (s *DebugSource) Close() error {
	return nil
}
