// Package source produces tile bitmaps from the supported map sources.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"fieldmap/internal/tile"
)

// ErrTileNotFound is returned when a source has no data for a tile.
var ErrTileNotFound = errors.New("tile not found")

// Source fetches or renders tiles. Implementations must be safe for use by
// several workers at once.
type Source interface {
	ID() string
	ZoomRange() (min, max maptile.Zoom)
	FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error)
	Close() error
}

// Locator is implemented by sources that know where their data is.
type Locator interface {
	StartPoint() (center orb.Point, zoom maptile.Zoom, ok bool)
}

func checkZoom(s Source, key tile.Key) error {
	min, max := s.ZoomRange()
	if key.Tile.Z < min || key.Tile.Z > max {
		return fmt.Errorf("zoom %d outside %d..%d: %w", key.Tile.Z, min, max, ErrTileNotFound)
	}
	return nil
}

// decodeTile decodes an encoded raster tile and scales it to tile.Size.
func decodeTile(key tile.Key, data []byte) (*tile.Bitmap, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", key, err)
	}

	b := img.Bounds()
	if b.Dx() == tile.Size && b.Dy() == tile.Size {
		return tile.NewBitmap(key, img), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return &tile.Bitmap{Key: key, Image: dst}, nil
}
