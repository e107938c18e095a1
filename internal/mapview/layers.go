package mapview

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"fieldmap/internal/gps"
	"fieldmap/internal/layers"
	"fieldmap/internal/overlay"
	"fieldmap/internal/projection"
	"fieldmap/internal/spatial"
)

// SetLayers replaces the user overlay layers. Layers that fail to load are
// reported through Notify and left out; the rest are installed.
func (c *Controller) SetLayers(defs []layers.LayerDef) {
	c.installLayers(defs)
	c.requestRedraw()
}

func (c *Controller) Layers() []layers.LayerDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]layers.LayerDef(nil), c.defs...)
}

func (c *Controller) installLayers(defs []layers.LayerDef) {
	var (
		built   []overlay.Layer
		closers []io.Closer
	)
	for _, d := range defs {
		ls, closer, err := c.buildLayer(d)
		if err != nil {
			c.notify(fmt.Sprintf("Could not load layer %s: %v", d.Name, err))
			continue
		}
		built = append(built, ls...)
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	if c.opts.Spatial != nil {
		built = append(built, storeLayers(c.opts.Spatial, "", true, c.logger)...)
	}

	c.mu.Lock()
	old := c.closers
	c.defs = append([]layers.LayerDef(nil), defs...)
	c.user = built
	c.closers = closers
	c.mu.Unlock()

	for _, cl := range old {
		cl.Close()
	}
}

func (c *Controller) buildLayer(d layers.LayerDef) ([]overlay.Layer, io.Closer, error) {
	switch d.Type {
	case layers.TypeGeoJSON:
		mem := spatial.NewMemoryStore()
		t, err := spatial.LoadGeoJSON(mem, d.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return []overlay.Layer{&overlay.VectorDbLayer{Store: mem, Table: t.Name, Off: !d.Enabled}}, nil, nil

	case layers.TypeVector:
		db, err := spatial.OpenSQLite(d.Path, c.logger.Named("spatial"))
		if err != nil {
			return nil, nil, err
		}
		return storeLayers(db, "", d.Enabled, c.logger), db, nil

	case layers.TypeGPX:
		fixes, err := gps.ReadGPX(d.Path)
		if err != nil {
			return nil, nil, err
		}
		line := make(orb.LineString, len(fixes))
		for i, f := range fixes {
			line[i] = f.Position
		}
		style := spatial.DefaultStyle(d.Name)
		style.StrokeColor = "#cc5500"
		mem := spatial.NewMemoryStore()
		mem.CreateTable(spatial.Table{Name: d.Name, SRID: projection.WGS84, Type: spatial.Line, Style: style})
		if len(line) > 1 {
			if err := mem.Insert(d.Name, spatial.Feature{ID: 1, Geometry: line}); err != nil {
				return nil, nil, err
			}
		}
		return []overlay.Layer{&overlay.VectorDbLayer{Store: mem, Table: d.Name, Off: !d.Enabled}}, nil, nil

	case layers.TypeMarkers:
		c.notes.SetEnabled(d.Enabled)
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown layer type %q", d.Type)
}

func storeLayers(store spatial.Store, theme string, enabled bool, logger *zap.Logger) []overlay.Layer {
	tables, err := store.Tables(context.Background())
	if err != nil {
		logger.Warn("Failed to list spatial tables", zap.Error(err))
		return nil
	}
	out := make([]overlay.Layer, 0, len(tables))
	for _, t := range tables {
		out = append(out, &overlay.VectorDbLayer{Store: store, Table: t.Name, Theme: theme, Off: !enabled})
	}
	return out
}

// layerStack is the draw order: tiles, user layers, notes, then the GPS layer on top.
func (c *Controller) layerStack() []overlay.Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stack := make([]overlay.Layer, 0, len(c.user)+3)
	stack = append(stack, &overlay.RasterTileLayer{Frame: c.frame})
	stack = append(stack, c.user...)
	return append(stack, c.notes, &overlay.GpsTrackLayer{Tracker: c.tracker})
}

func (c *Controller) saveLayers() {
	if c.opts.Layers == nil {
		return
	}
	if err := c.opts.Layers.Save(c.Layers()); err != nil {
		c.logger.Warn("Failed to save layers", zap.Error(err))
	}
}
