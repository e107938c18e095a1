package spatial

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"fieldmap/internal/projection"
)

// LoadGeoJSON reads a FeatureCollection file into a new table named after
// the file. Features without a numeric id are numbered in file order.
func LoadGeoJSON(store *MemoryStore, path string, style *Style) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if style == nil {
		style = DefaultStyle(name)
	}
	t := Table{Name: name, SRID: projection.WGS84, Style: style}
	if len(fc.Features) > 0 {
		t.Type = TypeOf(fc.Features[0].Geometry)
	}
	store.CreateTable(t)

	for i, gf := range fc.Features {
		if gf.Geometry == nil {
			continue
		}
		f := Feature{
			ID:         featureID(gf.ID, int64(i+1)),
			Geometry:   gf.Geometry,
			Attributes: map[string]interface{}(gf.Properties),
		}
		if err := store.Insert(name, f); err != nil {
			return Table{}, err
		}
	}

	tables, _ := store.Tables(context.Background())
	for _, tt := range tables {
		if tt.Name == name {
			return tt, nil
		}
	}
	return t, nil
}

func featureID(id interface{}, fallback int64) int64 {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
