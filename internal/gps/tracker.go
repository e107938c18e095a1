// Package gps tracks the device position, the GPS status and the optional
// track log shown on the map.
package gps

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/tkrajina/gpxgo/gpx"
	"go.uber.org/zap"
)

type Status int

const (
	Off Status = iota
	ListeningNoFix
	HasFix
)

func (s Status) String() string {
	switch s {
	case ListeningNoFix:
		return "listening"
	case HasFix:
		return "fix"
	default:
		return "off"
	}
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "off", "":
		return Off, nil
	case "listening", "no_fix":
		return ListeningNoFix, nil
	case "fix":
		return HasFix, nil
	}
	return Off, fmt.Errorf("unknown gps status %q", s)
}

// Marker is the symbol drawn at the device position.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerStale
	MarkerActive
	MarkerMoving
)

func (m Marker) String() string {
	switch m {
	case MarkerStale:
		return "stale"
	case MarkerActive:
		return "active"
	case MarkerMoving:
		return "moving"
	default:
		return "none"
	}
}

type Fix struct {
	Position  orb.Point
	Elevation float64
	Accuracy  float64
	Speed     float64
	Bearing   float64
	Time      time.Time
}

// Tracker combines the GPS status with the logging switch. While logging,
// every fix is appended to the track; switching logging off discards it.
type Tracker struct {
	mu      sync.RWMutex
	status  Status
	last    Fix
	hasFix  bool
	logging bool
	started time.Time
	track   []Fix
	logger  *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Update applies a status change. fix is required for HasFix and ignored otherwise.
func (t *Tracker) Update(status Status, fix *Fix) error {
	if status == HasFix && fix == nil {
		return fmt.Errorf("status %s requires a position", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != status {
		t.logger.Debug("GPS status changed", zap.Stringer("from", t.status), zap.Stringer("to", status))
	}
	t.status = status
	if status != HasFix {
		return nil
	}

	f := *fix
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	t.last = f
	t.hasFix = true
	if t.logging {
		t.track = append(t.track, f)
	}
	return nil
}

// SetLogging starts a new empty track or stops and clears the current one.
func (t *Tracker) SetLogging(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if on == t.logging {
		return
	}
	t.logging = on
	t.track = nil
	if on {
		t.started = time.Now().UTC()
		t.logger.Info("GPS logging started")
	} else {
		t.logger.Info("GPS logging stopped")
	}
}

func (t *Tracker) Logging() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logging
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) LastFix() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.hasFix
}

// Marker returns the symbol to draw and the position it belongs to.
func (t *Tracker) Marker() (Marker, Fix) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.status {
	case HasFix:
		if t.last.Bearing != 0 {
			return MarkerMoving, t.last
		}
		return MarkerActive, t.last
	case ListeningNoFix:
		if t.hasFix {
			return MarkerStale, t.last
		}
	}
	return MarkerNone, Fix{}
}

// Track returns the logged positions as a line.
func (t *Tracker) Track() orb.LineString {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ls := make(orb.LineString, len(t.track))
	for i, f := range t.track {
		ls[i] = f.Position
	}
	return ls
}

func (t *Tracker) Fixes() []Fix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Fix(nil), t.track...)
}

// WriteGPX exports the current track.
func (t *Tracker) WriteGPX(w io.Writer) error {
	t.mu.RLock()
	fixes := append([]Fix(nil), t.track...)
	started := t.started
	t.mu.RUnlock()

	name := "track"
	if !started.IsZero() {
		name = "track " + started.Format(time.RFC3339)
	}
	data, err := EncodeGPX(name, fixes)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func EncodeGPX(name string, fixes []Fix) ([]byte, error) {
	segment := gpx.GPXTrackSegment{}
	for _, f := range fixes {
		p := gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  f.Position.Lat(),
				Longitude: f.Position.Lon(),
				Elevation: *gpx.NewNullableFloat64(f.Elevation),
			},
			Timestamp: f.Time,
		}
		segment.Points = append(segment.Points, p)
	}

	doc := &gpx.GPX{
		Version: "1.1",
		Creator: "fieldmap",
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gpx: %w", err)
	}
	return data, nil
}

// ReadGPX loads all track points of a GPX file.
func ReadGPX(path string) ([]Fix, error) {
	doc, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX file: %w", err)
	}

	var fixes []Fix
	for _, track := range doc.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				var ele float64
				if p.Elevation.NotNull() {
					ele = p.Elevation.Value()
				}
				fixes = append(fixes, Fix{
					Position:  orb.Point{p.Longitude, p.Latitude},
					Elevation: ele,
					Time:      p.Timestamp,
				})
			}
		}
	}
	return fixes, nil
}
