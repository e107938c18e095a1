package overlay

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"

	"fieldmap/internal/framebuffer"
	"fieldmap/internal/gps"
	"fieldmap/internal/projection"
	"fieldmap/internal/spatial"
)

type Kind int

const (
	RasterTiles Kind = iota
	VectorDb
	GpsTrack
	Markers
)

func (k Kind) String() string {
	switch k {
	case RasterTiles:
		return "raster"
	case VectorDb:
		return "vector"
	case GpsTrack:
		return "gps"
	case Markers:
		return "markers"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Layer is one entry of the draw list. The set of implementations is closed.
type Layer interface {
	Kind() Kind
	Name() string
	Enabled() bool
	render(p *pass) error
}

// RasterTileLayer draws the tile frame buffer as the base map.
type RasterTileLayer struct {
	Frame *framebuffer.FrameBuffer
	Off   bool
}

func (l *RasterTileLayer) Kind() Kind    { return RasterTiles }
func (l *RasterTileLayer) Name() string  { return "tiles" }
func (l *RasterTileLayer) Enabled() bool { return !l.Off && l.Frame != nil }

func (l *RasterTileLayer) render(p *pass) error {
	l.Frame.Draw(p.canvas)
	return nil
}

// VectorDbLayer draws one table of a spatial store.
type VectorDbLayer struct {
	Store spatial.Store
	Table string
	Theme string
	Off   bool
}

func (l *VectorDbLayer) Kind() Kind    { return VectorDb }
func (l *VectorDbLayer) Name() string  { return l.Table }
func (l *VectorDbLayer) Enabled() bool { return !l.Off && l.Store != nil }

func (l *VectorDbLayer) render(p *pass) error {
	style, err := l.Store.Style(p.ctx, l.Table, l.Theme)
	if err != nil {
		return fmt.Errorf("failed to load style: %w", err)
	}
	if !style.VisibleAt(int(p.view.Zoom)) {
		return nil
	}

	features, err := l.Store.QueryByEnvelope(p.ctx, l.Table, p.view.Bound(), projection.WGS84)
	if err != nil {
		return fmt.Errorf("failed to query features: %w", err)
	}
	srid, err := l.tableSRID(p.ctx)
	if err != nil {
		return err
	}

	for _, f := range features {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		geom := f.Geometry
		if srid != projection.WGS84 {
			if geom, err = projection.ReprojectGeometry(geom, srid, projection.WGS84); err != nil {
				p.log.Debug("skipping feature")
				continue
			}
		}

		st := style
		if style.ThemeField != "" {
			st = style.Resolve(f.Attr(style.ThemeField))
		}

		screen := prepare(p.view, geom, st)
		if screen == nil {
			continue
		}
		DrawGeometry(p.dc, screen, st)

		id := fmt.Sprintf("%s:%d", l.Table, f.ID)
		p.hit(id, rectOf(screen.Bound()).Pad(st.Size/2+st.Width))

		if st.LabelVisible && st.LabelField != "" {
			if text := f.Attr(st.LabelField); text != "" {
				if anchor, ok := Anchor(screen); ok {
					p.label(labelCandidate{anchor: anchor, text: text, size: st.LabelSize, color: st.StrokeColor, id: id})
				}
			}
		}
	}
	return nil
}

func (l *VectorDbLayer) tableSRID(ctx context.Context) (projection.SRID, error) {
	tables, err := l.Store.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == l.Table {
			if t.SRID == 0 {
				return projection.WGS84, nil
			}
			return t.SRID, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", l.Table, spatial.ErrUnknownTable)
}

// GpsTrackLayer draws the logged track and the position marker.
type GpsTrackLayer struct {
	Tracker *gps.Tracker
	Off     bool
}

var (
	trackColor  = color.NRGBA{R: 0, G: 90, B: 200, A: 220}
	activeColor = color.NRGBA{R: 0, G: 120, B: 255, A: 255}
	staleColor  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
)

func (l *GpsTrackLayer) Kind() Kind    { return GpsTrack }
func (l *GpsTrackLayer) Name() string  { return "gps" }
func (l *GpsTrackLayer) Enabled() bool { return !l.Off && l.Tracker != nil }

func (l *GpsTrackLayer) render(p *pass) error {
	if track := l.Tracker.Track(); len(track) > 1 {
		line := ToScreen(p.view, track).(orb.LineString)
		p.dc.NewSubPath()
		p.dc.MoveTo(line[0].X(), line[0].Y())
		for _, pt := range line[1:] {
			p.dc.LineTo(pt.X(), pt.Y())
		}
		p.dc.SetColor(trackColor)
		p.dc.SetLineWidth(4)
		p.dc.SetDash()
		p.dc.Stroke()
	}

	marker, fix := l.Tracker.Marker()
	if marker == gps.MarkerNone {
		return nil
	}
	x, y := p.view.ToPixels(fix.Position)
	const r = 8

	switch marker {
	case gps.MarkerStale:
		p.dc.DrawCircle(x, y, r)
		p.dc.SetColor(staleColor)
	case gps.MarkerActive:
		p.dc.DrawCircle(x, y, r)
		p.dc.SetColor(activeColor)
	case gps.MarkerMoving:
		p.dc.Push()
		p.dc.RotateAbout(gg.Radians(fix.Bearing), x, y)
		p.dc.MoveTo(x, y-2*r)
		p.dc.LineTo(x+r, y+r)
		p.dc.LineTo(x, y+r/2)
		p.dc.LineTo(x-r, y+r)
		p.dc.ClosePath()
		p.dc.Pop()
		p.dc.SetColor(activeColor)
	}
	p.dc.FillPreserve()
	p.dc.SetColor(color.White)
	p.dc.SetLineWidth(2)
	p.dc.Stroke()
	return nil
}

// Marker is a user point of interest or note.
type Marker struct {
	ID       string
	Position orb.Point
	Label    string
	Color    string
}

// MarkerLayer holds points of interest. It is safe to mutate while rendering.
type MarkerLayer struct {
	name    string
	mu      sync.RWMutex
	markers []Marker
	style   *spatial.Style
	off     atomic.Bool
}

func NewMarkerLayer(name string) *MarkerLayer {
	st := spatial.DefaultStyle(name)
	st.Shape = "circle"
	st.Size = 12
	st.FillAlpha = 0.8
	st.Width = 2
	return &MarkerLayer{name: name, style: st}
}

func (l *MarkerLayer) Kind() Kind    { return Markers }
func (l *MarkerLayer) Name() string  { return l.name }
func (l *MarkerLayer) Enabled() bool { return !l.off.Load() }

func (l *MarkerLayer) SetEnabled(on bool) {
	l.off.Store(!on)
}

// Put adds a marker or replaces the one with the same ID.
func (l *MarkerLayer) Put(m Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.markers {
		if l.markers[i].ID == m.ID {
			l.markers[i] = m
			return
		}
	}
	l.markers = append(l.markers, m)
}

func (l *MarkerLayer) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.markers {
		if l.markers[i].ID == id {
			l.markers = append(l.markers[:i], l.markers[i+1:]...)
			return true
		}
	}
	return false
}

func (l *MarkerLayer) Markers() []Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Marker(nil), l.markers...)
}

func (l *MarkerLayer) render(p *pass) error {
	for _, m := range l.Markers() {
		st := l.style
		if m.Color != "" {
			c := *l.style
			c.FillColor = m.Color
			st = &c
		}
		screen := prepare(p.view, m.Position, st)
		if screen == nil {
			continue
		}
		DrawGeometry(p.dc, screen, st)

		id := l.name + ":" + m.ID
		p.hit(id, rectOf(screen.Bound()).Pad(st.Size/2+st.Width))
		if m.Label != "" {
			pt := screen.(orb.Point)
			p.label(labelCandidate{
				anchor: orb.Point{pt.X(), pt.Y() - st.Size/2},
				text:   m.Label,
				size:   st.LabelSize,
				color:  st.StrokeColor,
				id:     id,
			})
		}
	}
	return nil
}
