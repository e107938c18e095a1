package source

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/projection"
	"fieldmap/internal/tile"
)

// ImageSource cuts tiles out of one large raster image (a scanned field
// sheet or an orthophoto without georeference). Zoom 0 shows the whole
// image in one tile and every level doubles the resolution up to the native one.
type ImageSource struct {
	path    string
	width   int
	height  int
	maxZoom maptile.Zoom
	logger  *zap.Logger
}

// CalculateMaxZoom returns the first zoom at which one tile pixel is one image pixel
func CalculateMaxZoom(width, height int) int {
	maxDim := math.Max(float64(width), float64(height))
	scale := maxDim / tile.Size
	maxZoom := int(math.Ceil(math.Log2(scale)))
	if maxZoom < 0 {
		return 0
	}
	return maxZoom
}

func OpenImage(path string, logger *zap.Logger) (*ImageSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img, err := LoadImage(abs, vips.AccessSequential)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	s := &ImageSource{
		path:   abs,
		width:  img.Width(),
		height: img.Height(),
		logger: logger,
	}
	s.maxZoom = maptile.Zoom(CalculateMaxZoom(s.width, s.height))
	return s, nil
}

func (s *ImageSource) ID() string {
	return "image:" + s.path
}

func (s *ImageSource) ZoomRange() (maptile.Zoom, maptile.Zoom) {
	return 0, s.maxZoom
}

// StartPoint centres the whole image at zoom 0.
func (s *ImageSource) StartPoint() (orb.Point, maptile.Zoom, bool) {
	scale := math.Pow(2, float64(s.maxZoom))
	cx := float64(s.width) / scale / 2
	cy := float64(s.height) / scale / 2
	return orb.Point{projection.PixelXToLon(cx, 0), projection.PixelYToLat(cy, 0)}, 0, true
}

func (s *ImageSource) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	if err := checkZoom(s, key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z := int(key.Tile.Z)
	x := int(key.Tile.X)
	y := int(key.Tile.Y)
	tileSize := float64(tile.Size)

	// Calculate how many source pixels map to one tile at this zoom level.
	// At zoom 0, one tile = full image. Each zoom level halves the pixels per tile.
	pixelsPerTile := tileSize * math.Pow(2, float64(int(s.maxZoom)-z))

	// Clamp to image dimensions to handle edge tiles that extend beyond the image.
	startX := int(float64(x) * pixelsPerTile)
	startY := int(float64(y) * pixelsPerTile)
	endX := int(math.Min(float64(startX)+pixelsPerTile, float64(s.width)))
	endY := int(math.Min(float64(startY)+pixelsPerTile, float64(s.height)))

	width := endX - startX
	height := endY - startY
	if width <= 0 || height <= 0 {
		return nil, ErrTileNotFound
	}

	image, err := LoadImage(s.path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	// Extract only the tile region so the full image is never decoded.
	if err := image.ExtractArea(startX, startY, width, height); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := image.Resize(tileSize/pixelsPerTile, resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	// Edge tiles are padded at the bottom/right to keep the grid aligned.
	if image.Width() < tile.Size || image.Height() < tile.Size {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{238, 238, 238}
		if err := image.Embed(0, 0, tile.Size, tile.Size, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = 90
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	return decodeTile(key, data)
}

func (s *ImageSource) Close() error {
	return nil
}

// LoadImage loads an image based on file extension
func LoadImage(path string, access vips.Access) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}
