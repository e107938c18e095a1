// Package layers persists the user's overlay layer list between sessions.
package layers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	TypeVector  = "vector"
	TypeGeoJSON = "geojson"
	TypeGPX     = "gpx"
	TypeMarkers = "markers"
)

// LayerDef describes one overlay layer as saved on disk.
type LayerDef struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Store loads and saves the layer list.
type Store interface {
	Load() ([]LayerDef, error)
	Save(defs []LayerDef) error
}

// FileStore keeps the layer list in a JSON file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load returns an empty list when the file does not exist yet.
func (s *FileStore) Load() ([]LayerDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layers file: %w", err)
	}

	var defs []LayerDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse layers file: %w", err)
	}
	for i, d := range defs {
		if d.Type == "" || d.Name == "" {
			return nil, fmt.Errorf("layer %d: type and name are required", i)
		}
	}
	return defs, nil
}

// Save writes to a temporary file and renames it over the old list.
func (s *FileStore) Save(defs []LayerDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if defs == nil {
		defs = []LayerDef{}
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create layers directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write layers file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace layers file: %w", err)
	}

	s.logger.Debug("Saved layers", zap.String("path", s.path), zap.Int("count", len(defs)))
	return nil
}
