package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/tile"
)

// MBTiles reads raster tiles from an MBTiles database. Rows are stored in
// TMS order, so y is flipped on lookup.
type MBTiles struct {
	id       string
	db       *sql.DB
	metadata map[string]string
	minZoom  maptile.Zoom
	maxZoom  maptile.Zoom
	logger   *zap.Logger
}

func OpenMBTiles(path string, logger *zap.Logger) (*MBTiles, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mbtiles path: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", abs))
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open mbtiles: %w", err)
	}

	m := &MBTiles{
		id:      "mbtiles:" + abs,
		db:      db,
		minZoom: 0,
		maxZoom: 22,
		logger:  logger,
	}
	if err := m.loadMetadata(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MBTiles) loadMetadata() error {
	rows, err := m.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return fmt.Errorf("failed to read mbtiles metadata: %w", err)
	}
	defer rows.Close()

	m.metadata = make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			m.logger.Warn("Couldn't scan metadata row", zap.Error(err))
			continue
		}
		m.metadata[name] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read mbtiles metadata: %w", err)
	}

	if v, err := strconv.Atoi(m.metadata["minzoom"]); err == nil {
		m.minZoom = maptile.Zoom(v)
	}
	if v, err := strconv.Atoi(m.metadata["maxzoom"]); err == nil {
		m.maxZoom = maptile.Zoom(v)
	}
	return nil
}

func (m *MBTiles) ID() string {
	return m.id
}

func (m *MBTiles) ZoomRange() (maptile.Zoom, maptile.Zoom) {
	return m.minZoom, m.maxZoom
}

func (m *MBTiles) Metadata(name string) (string, bool) {
	v, ok := m.metadata[name]
	return v, ok
}

// Bounds parses the "bounds" metadata entry.
func (m *MBTiles) Bounds() (orb.Bound, error) {
	values, err := parseFloats(m.metadata["bounds"], 4)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("invalid bounds metadata: %w", err)
	}
	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}

// StartPoint uses the "center" metadata entry, falling back to the bounds centre.
func (m *MBTiles) StartPoint() (orb.Point, maptile.Zoom, bool) {
	if values, err := parseFloats(m.metadata["center"], 3); err == nil {
		return orb.Point{values[0], values[1]}, maptile.Zoom(values[2]), true
	}
	if b, err := m.Bounds(); err == nil {
		return b.Center(), m.minZoom, true
	}
	return orb.Point{}, 0, false
}

func (m *MBTiles) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	if err := checkZoom(m, key); err != nil {
		return nil, err
	}

	z := key.Tile.Z
	tmsY := (uint32(1) << uint(z)) - 1 - key.Tile.Y

	var data []byte
	row := m.db.QueryRowContext(ctx, "SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=? LIMIT 1", z, key.Tile.X, tmsY)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTileNotFound
		}
		return nil, fmt.Errorf("failed to read tile %s: %w", key, err)
	}

	return decodeTile(key, data)
}

// Close gracefully tears down the mbtiles connection.
func (m *MBTiles) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
