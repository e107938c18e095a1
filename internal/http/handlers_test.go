package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"go.uber.org/zap/zaptest"

	"fieldmap/internal/cache"
	"fieldmap/internal/config"
	"fieldmap/internal/mapsdir"
	"fieldmap/internal/mapview"
	"fieldmap/internal/projection"
)

func newTestHandlers(t *testing.T) (*Handlers, *mapview.Controller) {
	t.Helper()
	log := zaptest.NewLogger(t)

	view, err := mapview.New(mapview.Options{
		Memory:  cache.NewMemoryCache(32),
		View:    projection.Viewport{Center: orb.Point{0, 0}, Zoom: 10, Width: 512, Height: 512},
		MaxZoom: 18,
	}, log)
	if err != nil {
		t.Fatal(err)
	}

	scanner := mapsdir.New(t.TempDir(), log)
	if err := scanner.Scan(); err != nil {
		t.Fatal(err)
	}

	return New(&config.Config{}, log, view, scanner), view
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandlers(t)
	rec := do(t, h.Routes(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandlers(t)
	h.config.AllowedOrigin = "https://field.example"

	req := httptest.NewRequest(http.MethodOptions, "/api/viewport", nil)
	req.Header.Set("Origin", "https://other.example")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://field.example" {
		t.Errorf("allowed origin = %q", got)
	}
}

func TestViewportAndZoom(t *testing.T) {
	h, view := newTestHandlers(t)
	routes := h.Routes()

	rec := do(t, routes, http.MethodPost, "/api/viewport", `{"lon": 10, "lat": 20, "width": 640, "height": 480}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("viewport status = %d: %s", rec.Code, rec.Body.String())
	}
	var vp viewportResponse
	decode(t, rec, &vp)
	if vp.Width != 640 || vp.Height != 480 || vp.Zoom != 10 {
		t.Errorf("viewport = %+v", vp)
	}
	if v := view.Viewport(); v.Center.Lon() != 10 || v.Center.Lat() != 20 {
		t.Errorf("centre = %v", v.Center)
	}

	rec = do(t, routes, http.MethodPost, "/api/zoom", `{"zoom": 12}`)
	var zr map[string]bool
	decode(t, rec, &zr)
	if !zr["changed"] || view.Viewport().Zoom != 12 {
		t.Errorf("zoom = %v, changed %v", view.Viewport().Zoom, zr["changed"])
	}

	rec = do(t, routes, http.MethodPost, "/api/zoom", `{"zoom": 30}`)
	decode(t, rec, &zr)
	if view.Viewport().Zoom != 18 {
		t.Errorf("zoom not clamped: %v", view.Viewport().Zoom)
	}

	if rec := do(t, routes, http.MethodPost, "/api/zoom", `{"zoom": -1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative zoom status = %d", rec.Code)
	}
	if rec := do(t, routes, http.MethodPost, "/api/zoom", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rec.Code)
	}
	if rec := do(t, routes, http.MethodDelete, "/api/viewport", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("delete status = %d", rec.Code)
	}
}

func TestFrameIsPNG(t *testing.T) {
	h, _ := newTestHandlers(t)
	rec := do(t, h.Routes(), http.MethodGet, "/api/frame.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 512 || b.Dy() != 512 {
		t.Errorf("frame bounds = %v", b)
	}
}

func TestGpsLoggingAndTrackExport(t *testing.T) {
	h, view := newTestHandlers(t)
	routes := h.Routes()

	do(t, routes, http.MethodPost, "/api/logging", `{"on": true}`)
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"status": "fix", "lon": %d, "lat": 1, "accuracy": 5}`, i)
		if rec := do(t, routes, http.MethodPost, "/api/gps", body); rec.Code != http.StatusOK {
			t.Fatalf("gps status = %d: %s", rec.Code, rec.Body.String())
		}
	}
	if n := len(view.Tracker().Track()); n != 3 {
		t.Fatalf("track has %d points, want 3", n)
	}

	rec := do(t, routes, http.MethodPost, "/api/gps", `{"status": "listening"}`)
	var out map[string]interface{}
	decode(t, rec, &out)
	if out["marker"] != "stale" {
		t.Errorf("marker = %v", out["marker"])
	}

	if rec := do(t, routes, http.MethodPost, "/api/gps", `{"status": "sleeping"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status code = %d", rec.Code)
	}

	rec = do(t, routes, http.MethodGet, "/api/gps?track=1", "")
	var state gpsResponse
	decode(t, rec, &state)
	if state.Status != "listening" || state.Points != 3 || len(state.Track) != 3 {
		t.Fatalf("gps state = %+v", state)
	}
	if state.Last == nil || state.Last.Lon != 2 || state.Last.Accuracy != 5 {
		t.Errorf("last fix = %+v", state.Last)
	}
	if state.Track[0].Time.IsZero() {
		t.Error("logged fix has no timestamp")
	}

	rec = do(t, routes, http.MethodGet, "/api/track.gpx", "")
	if !strings.Contains(rec.Body.String(), "<trkpt") {
		t.Errorf("gpx export has no points: %s", rec.Body.String())
	}
}

func TestMarkersAndTap(t *testing.T) {
	h, _ := newTestHandlers(t)
	routes := h.Routes()

	rec := do(t, routes, http.MethodPost, "/api/markers", `{"id": "well", "lon": 0, "lat": 0, "label": "Well"}`)
	var markers []markerRequest
	decode(t, rec, &markers)
	if len(markers) != 1 || markers[0].ID != "well" {
		t.Fatalf("markers = %+v", markers)
	}

	do(t, routes, http.MethodGet, "/api/frame.png", "")

	rec = do(t, routes, http.MethodGet, "/api/tap?x=256&y=256", "")
	var tap struct {
		Hit bool   `json:"hit"`
		ID  string `json:"id"`
	}
	decode(t, rec, &tap)
	if !tap.Hit || tap.ID != "notes:well" {
		t.Errorf("tap = %+v", tap)
	}

	if rec := do(t, routes, http.MethodGet, "/api/tap?x=a", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad tap status = %d", rec.Code)
	}
}

func TestParams(t *testing.T) {
	h, view := newTestHandlers(t)
	rec := do(t, h.Routes(), http.MethodPost, "/api/params", `{"theme": "night", "text_scale": 1.5}`)
	var p paramsRequest
	decode(t, rec, &p)
	if p.Theme != "night" || p.TextScale != 1.5 {
		t.Errorf("params = %+v", p)
	}
	if view.Params().Theme != "night" {
		t.Errorf("controller theme = %q", view.Params().Theme)
	}
}

func TestSourceSelection(t *testing.T) {
	h, view := newTestHandlers(t)
	routes := h.Routes()

	if rec := do(t, routes, http.MethodPost, "/api/source", `{"id": "missing"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rec.Code)
	}
	if rec := do(t, routes, http.MethodPost, "/api/source", `{"kind": "carrier-pigeon"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d", rec.Code)
	}

	rec := do(t, routes, http.MethodGet, "/api/sources", "")
	var out struct {
		Current string            `json:"current"`
		Maps    []mapsdir.MapInfo `json:"maps"`
	}
	decode(t, rec, &out)
	if out.Current != view.Source().ID() || len(out.Maps) != 0 {
		t.Errorf("sources = %+v", out)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	h, _ := newTestHandlers(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("hello"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestUploadImportsGeoJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "trails.geojson")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(`{"type": "FeatureCollection", "features": []}`))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	decode(t, rec, &out)
	id, _ := out["id"].(string)
	if _, ok := h.scanner.ByID(id); !ok {
		t.Errorf("uploaded map %q not listed", id)
	}
}

func TestViewportRejectsOversizedFrame(t *testing.T) {
	h, view := newTestHandlers(t)
	h.config.MaxViewSize = 2048

	rec := do(t, h.Routes(), http.MethodPost, "/api/viewport", `{"width": 100000, "height": 100000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if v := view.Viewport(); v.Width != 512 || v.Height != 512 {
		t.Errorf("view resized to %dx%d", v.Width, v.Height)
	}

	rec = do(t, h.Routes(), http.MethodPost, "/api/viewport", `{"width": 2048, "height": 1024}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if v := view.Viewport(); v.Width != 2048 || v.Height != 1024 {
		t.Errorf("view = %dx%d, want 2048x1024", v.Width, v.Height)
	}
}
