package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/overlay"
	"fieldmap/internal/projection"
	"fieldmap/internal/spatial"
	"fieldmap/internal/tile"
)

var landColor = color.RGBA{242, 239, 233, 255}

// VectorSource renders tiles offline from the tables of a spatial store.
// Params.Theme selects the themed style of every table and Params.TextScale
// scales labels.
type VectorSource struct {
	id     string
	store  spatial.Store
	owned  bool
	logger *zap.Logger
}

func NewVectorSource(id string, store spatial.Store, logger *zap.Logger) *VectorSource {
	return &VectorSource{id: "vector:" + id, store: store, logger: logger}
}

// OpenVector loads a .geojson file into memory or opens a spatial .sqlite database.
func OpenVector(path string, logger *zap.Logger) (*VectorSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vector path: %w", err)
	}

	var store spatial.Store
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".geojson", ".json":
		mem := spatial.NewMemoryStore()
		if _, err := spatial.LoadGeoJSON(mem, abs, nil); err != nil {
			return nil, err
		}
		store = mem
	case ".sqlite", ".db":
		db, err := spatial.OpenSQLite(abs, logger)
		if err != nil {
			return nil, err
		}
		store = db
	default:
		return nil, fmt.Errorf("unsupported vector file %s", path)
	}

	s := NewVectorSource(abs, store, logger)
	s.owned = true
	return s, nil
}

func (s *VectorSource) ID() string {
	return s.id
}

func (s *VectorSource) ZoomRange() (maptile.Zoom, maptile.Zoom) {
	return 0, 22
}

// StartPoint centres on the union of all table bounds.
func (s *VectorSource) StartPoint() (orb.Point, maptile.Zoom, bool) {
	tables, err := s.store.Tables(context.Background())
	if err != nil || len(tables) == 0 {
		return orb.Point{}, 0, false
	}
	var bound orb.Bound
	found := false
	for _, t := range tables {
		if t.Bound == (orb.Bound{}) {
			continue
		}
		b, err := projection.ReprojectBound(t.Bound, t.SRID, projection.WGS84)
		if err != nil {
			continue
		}
		if !found {
			bound, found = b, true
		} else {
			bound = bound.Union(b)
		}
	}
	if !found {
		return orb.Point{}, 0, false
	}
	return bound.Center(), 12, true
}

func (s *VectorSource) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	if err := checkZoom(s, key); err != nil {
		return nil, err
	}

	tables, err := s.store.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	layers := make([]overlay.Layer, 0, len(tables))
	for _, t := range tables {
		layers = append(layers, &overlay.VectorDbLayer{Store: s.store, Table: t.Name, Theme: key.Params.Theme})
	}

	z := key.Tile.Z
	view := projection.Viewport{
		Center: orb.Point{
			projection.PixelXToLon(key.PixelX()+tile.Size/2, z),
			projection.PixelYToLat(key.PixelY()+tile.Size/2, z),
		},
		Zoom:   z,
		Width:  tile.Size,
		Height: tile.Size,
	}

	img := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))
	draw.Draw(img, img.Bounds(), &image.Uniform{landColor}, image.Point{}, draw.Src)
	overlay.NewRenderer(s.logger).Render(ctx, view, key.Params.TextScale, layers, img)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tile.Bitmap{Key: key, Image: img}, nil
}

func (s *VectorSource) Close() error {
	if s.owned {
		return s.store.Close()
	}
	return nil
}
