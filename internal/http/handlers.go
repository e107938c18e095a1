package http

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/config"
	"fieldmap/internal/gps"
	"fieldmap/internal/mapsdir"
	"fieldmap/internal/mapview"
	"fieldmap/internal/overlay"
	"fieldmap/internal/source"
	"fieldmap/internal/tile"
)

const maxUploadSize = 4 << 30

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	view    *mapview.Controller
	scanner *mapsdir.Scanner
}

func New(config *config.Config, logger *zap.Logger, view *mapview.Controller, scanner *mapsdir.Scanner) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		view:    view,
		scanner: scanner,
	}
}

// Routes returns the API wrapped in the CORS and request logging middleware.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/frame.png", h.HandleFrame)
	mux.HandleFunc("/api/viewport", h.HandleViewport)
	mux.HandleFunc("/api/zoom", h.HandleZoom)
	mux.HandleFunc("/api/move", h.HandleMove)
	mux.HandleFunc("/api/params", h.HandleParams)
	mux.HandleFunc("/api/gps", h.HandleGps)
	mux.HandleFunc("/api/logging", h.HandleLogging)
	mux.HandleFunc("/api/tap", h.HandleTap)
	mux.HandleFunc("/api/markers", h.HandleMarkers)
	mux.HandleFunc("/api/pause", h.HandlePause)
	mux.HandleFunc("/api/resume", h.HandleResume)
	mux.HandleFunc("/api/track.gpx", h.HandleTrack)
	mux.HandleFunc("/api/sources", h.HandleSources)
	mux.HandleFunc("/api/source", h.HandleSource)
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/healthz", h.HandleHealthz)

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	img := h.view.Render(r.Context())
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		h.logger.Debug("Failed to write frame", zap.Error(err))
	}
}

type viewportResponse struct {
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Zoom      int     `json:"zoom"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Animating bool    `json:"animating"`
	Queued    int     `json:"queued"`
}

type viewportRequest struct {
	Lon    *float64 `json:"lon"`
	Lat    *float64 `json:"lat"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

func (h *Handlers) HandleViewport(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req viewportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Width < 0 || req.Height < 0 || req.Width > h.maxViewSize() || req.Height > h.maxViewSize() {
			http.Error(w, fmt.Sprintf("View size must be between 1 and %d pixels per side", h.maxViewSize()), http.StatusBadRequest)
			return
		}
		if req.Width > 0 && req.Height > 0 {
			h.view.OnSizeChanged(req.Width, req.Height)
		}
		if req.Lon != nil && req.Lat != nil {
			h.view.OnViewportChanged(orb.Point{*req.Lon, *req.Lat})
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeViewport(w)
}

func (h *Handlers) maxViewSize() int {
	if h.config.MaxViewSize > 0 {
		return h.config.MaxViewSize
	}
	return mapview.DefaultMaxViewSize
}

func (h *Handlers) writeViewport(w http.ResponseWriter) {
	v := h.view.Viewport()
	writeJSON(w, viewportResponse{
		Lon:       v.Center.Lon(),
		Lat:       v.Center.Lat(),
		Zoom:      int(v.Zoom),
		Width:     v.Width,
		Height:    v.Height,
		Animating: h.view.ZoomAnimating(),
		Queued:    h.view.QueueLen(),
	})
}

type zoomRequest struct {
	Delta int  `json:"delta"`
	Zoom  *int `json:"zoom"`
}

func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req zoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var changed bool
	if req.Zoom != nil {
		if *req.Zoom < 0 {
			http.Error(w, "Zoom must be non-negative", http.StatusBadRequest)
			return
		}
		changed = h.view.SetZoom(maptile.Zoom(*req.Zoom))
	} else {
		changed = h.view.OnZoomRequested(req.Delta)
	}
	writeJSON(w, map[string]interface{}{"changed": changed})
}

type moveRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.view.MoveBy(req.DX, req.DY)
	if req.VX != 0 || req.VY != 0 {
		h.view.Fling(req.VX, req.VY)
	}
	h.writeViewport(w)
}

type paramsRequest struct {
	Theme     string  `json:"theme"`
	TextScale float64 `json:"text_scale"`
}

func (h *Handlers) HandleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req paramsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		h.view.SetParams(tile.Params{Theme: req.Theme, TextScale: req.TextScale})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := h.view.Params()
	writeJSON(w, paramsRequest{Theme: p.Theme, TextScale: p.TextScale})
}

type gpsRequest struct {
	Status    string     `json:"status"`
	Lon       float64    `json:"lon"`
	Lat       float64    `json:"lat"`
	Elevation float64    `json:"elevation"`
	Accuracy  float64    `json:"accuracy"`
	Speed     float64    `json:"speed"`
	Bearing   float64    `json:"bearing"`
	Time      *time.Time `json:"time"`
}

type fixResponse struct {
	Lon       float64   `json:"lon"`
	Lat       float64   `json:"lat"`
	Elevation float64   `json:"elevation"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Bearing   float64   `json:"bearing"`
	Time      time.Time `json:"time"`
}

func toFixResponse(f gps.Fix) fixResponse {
	return fixResponse{
		Lon:       f.Position.Lon(),
		Lat:       f.Position.Lat(),
		Elevation: f.Elevation,
		Accuracy:  f.Accuracy,
		Speed:     f.Speed,
		Bearing:   f.Bearing,
		Time:      f.Time,
	}
}

type gpsResponse struct {
	Status  string        `json:"status"`
	Marker  string        `json:"marker"`
	Logging bool          `json:"logging"`
	Points  int           `json:"points"`
	Last    *fixResponse  `json:"last,omitempty"`
	Track   []fixResponse `json:"track,omitempty"`
}

// HandleGps accepts position updates on POST. GET reports the tracker state;
// with track=1 it includes every logged fix.
func (h *Handlers) HandleGps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req gpsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		status, err := gps.ParseStatus(req.Status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var fix *gps.Fix
		if status == gps.HasFix {
			fix = &gps.Fix{
				Position:  orb.Point{req.Lon, req.Lat},
				Elevation: req.Elevation,
				Accuracy:  req.Accuracy,
				Speed:     req.Speed,
				Bearing:   req.Bearing,
			}
			if req.Time != nil {
				fix.Time = *req.Time
			}
		}
		if err := h.view.OnGpsUpdate(status, fix); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tracker := h.view.Tracker()
	marker, _ := tracker.Marker()
	fixes := tracker.Fixes()
	resp := gpsResponse{
		Status:  tracker.Status().String(),
		Marker:  marker.String(),
		Logging: tracker.Logging(),
		Points:  len(fixes),
	}
	if last, ok := tracker.LastFix(); ok {
		f := toFixResponse(last)
		resp.Last = &f
	}
	if r.Method == http.MethodGet && r.URL.Query().Get("track") == "1" {
		for _, f := range fixes {
			resp.Track = append(resp.Track, toFixResponse(f))
		}
	}
	writeJSON(w, resp)
}

func (h *Handlers) HandleLogging(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.view.SetLogging(req.On)
	writeJSON(w, map[string]interface{}{"logging": req.On})
}

func (h *Handlers) HandleTap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "Invalid coordinates", http.StatusBadRequest)
		return
	}

	id, ok := h.view.OnTap(x, y)
	writeJSON(w, map[string]interface{}{"hit": ok, "id": id})
}

type markerRequest struct {
	ID    string  `json:"id"`
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	Label string  `json:"label"`
	Color string  `json:"color"`
}

func (h *Handlers) HandleMarkers(w http.ResponseWriter, r *http.Request) {
	notes := h.view.Notes()
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req markerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		notes.Put(overlay.Marker{ID: req.ID, Position: orb.Point{req.Lon, req.Lat}, Label: req.Label, Color: req.Color})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := []markerRequest{}
	for _, m := range notes.Markers() {
		out = append(out, markerRequest{ID: m.ID, Lon: m.Position.Lon(), Lat: m.Position.Lat(), Label: m.Label, Color: m.Color})
	}
	writeJSON(w, out)
}

func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.view.OnPause(r.Context()); err != nil {
		h.logger.Error("Failed to pause map view", zap.Error(err))
		http.Error(w, "Failed to pause", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"paused": true})
}

func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.view.OnResume(r.Context()); err != nil {
		h.logger.Error("Failed to resume map view", zap.Error(err))
		http.Error(w, "Failed to resume", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"paused": false})
}

func (h *Handlers) HandleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="track.gpx"`)
	if err := h.view.Tracker().WriteGPX(w); err != nil {
		h.logger.Error("Failed to export track", zap.Error(err))
		http.Error(w, "Failed to export track", http.StatusInternalServerError)
	}
}

func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"current": h.view.Source().ID(),
		"maps":    h.scanner.Maps(),
	})
}

type sourceRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

func (h *Handlers) HandleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	kind, location := req.Kind, req.URL
	if req.ID != "" {
		m, ok := h.scanner.ByID(req.ID)
		if !ok {
			http.Error(w, "Unknown map", http.StatusNotFound)
			return
		}
		kind, location = m.Kind, h.scanner.PathByID(req.ID)
	}

	opts := source.Options{HTTPTimeout: h.config.HTTPTimeout}
	if err := h.view.OpenSource(r.Context(), kind, location, opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{"current": h.view.Source().ID()})
}

func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if _, ok := mapsdir.KindOf(header.Filename); !ok {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}

	tempFile, err := os.CreateTemp(os.TempDir(), "upload_*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		h.logger.Error("Failed to create temp file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempPath := tempFile.Name()

	if _, err := io.Copy(tempFile, file); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		h.logger.Error("Failed to copy file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempFile.Close()

	id, err := h.scanner.Import(tempPath, header.Filename)
	if err != nil {
		os.Remove(tempPath)
		h.logger.Error("Failed to import uploaded file", zap.Error(err))
		http.Error(w, "Failed to process file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":    id,
		"name":  header.Filename,
		"saved": true,
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
