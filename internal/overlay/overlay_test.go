package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/paulmach/orb"
	"go.uber.org/zap/zaptest"

	"fieldmap/internal/gps"
	"fieldmap/internal/projection"
	"fieldmap/internal/spatial"
)

func testView() projection.Viewport {
	return projection.Viewport{Center: orb.Point{0, 0}, Zoom: 10, Width: 400, Height: 300}
}

func canvas(v projection.Viewport) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
}

func labelledStore(t *testing.T, points []orb.Point) *spatial.MemoryStore {
	t.Helper()
	st := spatial.DefaultStyle("poi")
	st.LabelVisible = true
	st.LabelField = "name"

	store := spatial.NewMemoryStore()
	store.CreateTable(spatial.Table{Name: "poi", Style: st})
	for i, p := range points {
		f := spatial.Feature{
			ID:         int64(i + 1),
			Geometry:   p,
			Attributes: map[string]interface{}{"name": fmt.Sprintf("label %d", i+1)},
		}
		if err := store.Insert("poi", f); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestLabelsDoNotOverlap(t *testing.T) {
	var points []orb.Point
	for i := 0; i < 20; i++ {
		points = append(points, orb.Point{float64(i%5) * 0.004, float64(i/5) * 0.004})
	}
	store := labelledStore(t, points)
	view := testView()

	r := NewRenderer(zaptest.NewLogger(t))
	placed := r.Render(context.Background(), view, 1, []Layer{&VectorDbLayer{Store: store, Table: "poi"}}, canvas(view))

	if len(placed) == 0 || len(placed) >= len(points) {
		t.Fatalf("placed %d of %d crowded labels", len(placed), len(points))
	}
	for i := range placed {
		for j := i + 1; j < len(placed); j++ {
			if placed[i].Box.Intersects(placed[j].Box) {
				t.Errorf("labels %q and %q overlap", placed[i].Text, placed[j].Text)
			}
		}
	}
	if placed[0].FeatureID != "poi:1" {
		t.Errorf("first placed label = %s, want poi:1", placed[0].FeatureID)
	}
}

func TestSeparatedLabelsAllPlaced(t *testing.T) {
	store := labelledStore(t, []orb.Point{{-0.15, 0}, {0.15, 0}})
	view := testView()

	r := NewRenderer(zaptest.NewLogger(t))
	placed := r.Render(context.Background(), view, 1, []Layer{&VectorDbLayer{Store: store, Table: "poi"}}, canvas(view))
	if len(placed) != 2 {
		t.Fatalf("placed %d labels, want 2", len(placed))
	}
}

func TestTextScaleGrowsLabels(t *testing.T) {
	store := labelledStore(t, []orb.Point{{0, 0}})
	view := testView()
	r := NewRenderer(zaptest.NewLogger(t))
	layers := []Layer{&VectorDbLayer{Store: store, Table: "poi"}}

	small := r.Render(context.Background(), view, 1, layers, canvas(view))
	large := r.Render(context.Background(), view, 2, layers, canvas(view))
	ws := small[0].Box.MaxX - small[0].Box.MinX
	wl := large[0].Box.MaxX - large[0].Box.MinX
	if wl <= ws {
		t.Errorf("label width at scale 2 = %v, at scale 1 = %v", wl, ws)
	}
}

func TestPolygonFilled(t *testing.T) {
	st := spatial.DefaultStyle("area")
	st.FillAlpha = 1
	store := spatial.NewMemoryStore()
	store.CreateTable(spatial.Table{Name: "area", Style: st})
	square := orb.Polygon{{{-0.05, -0.05}, {0.05, -0.05}, {0.05, 0.05}, {-0.05, 0.05}, {-0.05, -0.05}}}
	if err := store.Insert("area", spatial.Feature{ID: 7, Geometry: square}); err != nil {
		t.Fatal(err)
	}

	view := testView()
	dst := canvas(view)
	r := NewRenderer(zaptest.NewLogger(t))
	r.Render(context.Background(), view, 1, []Layer{&VectorDbLayer{Store: store, Table: "area"}}, dst)

	c := dst.RGBAAt(200, 150)
	if c.R < 200 || c.G > 50 || c.B > 50 {
		t.Errorf("centre pixel = %v, want red fill", c)
	}
	if id, ok := r.HitTest(200, 150); !ok || id != "area:7" {
		t.Errorf("hit = %q %v", id, ok)
	}
}

func TestThemedStyle(t *testing.T) {
	st := spatial.DefaultStyle("zones")
	st.FillAlpha = 1
	st.ThemeField = "kind"
	blue := spatial.DefaultStyle("water")
	blue.FillColor = "blue"
	blue.FillAlpha = 1
	st.Theme = map[string]*spatial.Style{"water": blue}

	store := spatial.NewMemoryStore()
	store.CreateTable(spatial.Table{Name: "zones", Style: st})
	square := orb.Polygon{{{-0.05, -0.05}, {0.05, -0.05}, {0.05, 0.05}, {-0.05, 0.05}, {-0.05, -0.05}}}
	store.Insert("zones", spatial.Feature{ID: 1, Geometry: square, Attributes: map[string]interface{}{"kind": "water"}})

	view := testView()
	dst := canvas(view)
	NewRenderer(zaptest.NewLogger(t)).Render(context.Background(), view, 1, []Layer{&VectorDbLayer{Store: store, Table: "zones"}}, dst)

	if c := dst.RGBAAt(200, 150); c.B < 200 || c.R > 50 {
		t.Errorf("centre pixel = %v, want themed blue fill", c)
	}
}

func TestZoomRangeHidesLayer(t *testing.T) {
	store := labelledStore(t, []orb.Point{{0, 0}})
	st, _ := store.Style(context.Background(), "poi", "")
	st.MinZoom = 12

	view := testView()
	r := NewRenderer(zaptest.NewLogger(t))
	placed := r.Render(context.Background(), view, 1, []Layer{&VectorDbLayer{Store: store, Table: "poi"}}, canvas(view))
	if len(placed) != 0 || len(r.Hits()) != 0 {
		t.Errorf("layer drawn below its min zoom")
	}
}

type brokenStore struct {
	spatial.Store
	panics bool
}

func (s *brokenStore) Style(ctx context.Context, table, themeKey string) (*spatial.Style, error) {
	return spatial.DefaultStyle(table), nil
}

func (s *brokenStore) QueryByEnvelope(ctx context.Context, table string, env orb.Bound, srid projection.SRID) ([]spatial.Feature, error) {
	if s.panics {
		panic("concurrent modification")
	}
	return nil, errors.New("database is locked")
}

func TestFailingLayerIsSkipped(t *testing.T) {
	markers := NewMarkerLayer("notes")
	markers.Put(Marker{ID: "m1", Position: orb.Point{0, 0}, Label: "camp"})

	layers := []Layer{
		&VectorDbLayer{Store: &brokenStore{}, Table: "roads"},
		&VectorDbLayer{Store: &brokenStore{panics: true}, Table: "rivers"},
		markers,
	}

	view := testView()
	r := NewRenderer(zaptest.NewLogger(t))
	placed := r.Render(context.Background(), view, 1, layers, canvas(view))

	if len(placed) != 1 || placed[0].Text != "camp" {
		t.Errorf("placed = %+v", placed)
	}
	if id, ok := r.HitTest(200, 150); !ok || id != "notes:m1" {
		t.Errorf("hit = %q %v", id, ok)
	}
	if _, ok := r.HitTest(5, 5); ok {
		t.Error("hit far from any feature")
	}
}

func TestMarkerLayerPutRemove(t *testing.T) {
	l := NewMarkerLayer("notes")
	l.Put(Marker{ID: "a", Label: "one"})
	l.Put(Marker{ID: "a", Label: "two"})
	l.Put(Marker{ID: "b"})
	if got := l.Markers(); len(got) != 2 || got[0].Label != "two" {
		t.Errorf("markers = %+v", got)
	}
	if !l.Remove("a") || l.Remove("a") {
		t.Error("remove semantics")
	}
}

func TestGpsLayerDrawsMarker(t *testing.T) {
	tr := gps.NewTracker(zaptest.NewLogger(t))
	tr.Update(gps.HasFix, &gps.Fix{Position: orb.Point{0, 0}})

	view := testView()
	dst := canvas(view)
	NewRenderer(zaptest.NewLogger(t)).Render(context.Background(), view, 1, []Layer{&GpsTrackLayer{Tracker: tr}}, dst)

	if c := dst.RGBAAt(200, 150); c.B < 200 {
		t.Errorf("centre pixel = %v, want position marker", c)
	}
}

func TestAnchor(t *testing.T) {
	square := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	if p, ok := Anchor(square); !ok || p != (orb.Point{5, 5}) {
		t.Errorf("polygon anchor = %v %v", p, ok)
	}
	line := orb.LineString{{0, 0}, {5, 1}, {10, 0}}
	if p, ok := Anchor(line); !ok || p != (orb.Point{5, 1}) {
		t.Errorf("line anchor = %v %v", p, ok)
	}
	if _, ok := Anchor(orb.LineString{}); ok {
		t.Error("empty line has an anchor")
	}
}
