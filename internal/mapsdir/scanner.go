// Package mapsdir keeps the list of map files found in the data directory.
package mapsdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cshum/vipsgen/vips"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldmap/internal/source"
)

const indexFile = "sources.json"

var kinds = map[string]string{
	".mbtiles": source.KindMBTiles,
	".tif":     source.KindImage,
	".tiff":    source.KindImage,
	".jpg":     source.KindImage,
	".jpeg":    source.KindImage,
	".png":     source.KindImage,
	".webp":    source.KindImage,
	".geojson": source.KindVector,
	".sqlite":  source.KindVector,
}

// KindOf maps a file name to the source kind that opens it.
func KindOf(filename string) (string, bool) {
	k, ok := kinds[strings.ToLower(filepath.Ext(filename))]
	return k, ok
}

// MapInfo describes one map file. The ID survives rescans and restarts.
type MapInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Bytes    int64  `json:"bytes"`
}

type Scanner struct {
	dataDir string
	logger  *zap.Logger
	probe   func(path string) (int, int, error)

	mu   sync.RWMutex
	maps []MapInfo
}

func New(dataDir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dataDir: dataDir,
		logger:  logger,
		probe:   probeImage,
	}
}

// Scan rereads the data directory. Known files keep their ID; entries whose
// file disappeared are dropped from the index.
func (s *Scanner) Scan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := s.loadIndex()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	present := make(map[string]bool)
	maps := []MapInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, ok := KindOf(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Error getting file info", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		present[entry.Name()] = true

		if prev, ok := known[entry.Name()]; ok && prev.Bytes == info.Size() && prev.ID != "" {
			maps = append(maps, prev)
			continue
		}

		m, err := s.describe(entry.Name(), kind, info.Size())
		if err != nil {
			s.logger.Warn("Failed to scan map file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if prev, ok := known[entry.Name()]; ok && prev.ID != "" {
			m.ID = prev.ID
		}
		s.logger.Info("Found map file", zap.String("id", m.ID), zap.String("file", m.Filename), zap.String("kind", m.Kind))
		maps = append(maps, m)
	}

	for name := range known {
		if !present[name] {
			s.logger.Info("Dropped orphaned map entry", zap.String("file", name))
		}
	}

	sort.Slice(maps, func(i, j int) bool { return maps[i].Filename < maps[j].Filename })
	s.maps = maps

	if err := s.saveIndex(); err != nil {
		s.logger.Warn("Failed to save map index", zap.Error(err))
	}
	return nil
}

func (s *Scanner) describe(filename, kind string, size int64) (MapInfo, error) {
	m := MapInfo{
		ID:       uuid.New().String(),
		Filename: filename,
		Kind:     kind,
		Bytes:    size,
	}
	if kind == source.KindImage {
		w, h, err := s.probe(s.getFilePath(filename))
		if err != nil {
			return MapInfo{}, fmt.Errorf("failed to open image: %w", err)
		}
		m.Width, m.Height = w, h
	}
	return m, nil
}

func probeImage(path string) (int, int, error) {
	img, err := source.LoadImage(path, vips.AccessSequential)
	if err != nil {
		return 0, 0, err
	}
	defer img.Close()
	return img.Width(), img.Height(), nil
}

func (s *Scanner) Maps() []MapInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MapInfo(nil), s.maps...)
}

func (s *Scanner) ByID(id string) (MapInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.maps {
		if m.ID == id {
			return m, true
		}
	}
	return MapInfo{}, false
}

func (s *Scanner) PathByID(id string) string {
	m, ok := s.ByID(id)
	if !ok {
		return ""
	}
	return s.getFilePath(m.Filename)
}

// Import moves an uploaded file into the data directory under its original
// name, adding a numeric suffix on collision, and rescans. It returns the new ID.
func (s *Scanner) Import(tempPath, originalFilename string) (string, error) {
	name := filepath.Base(originalFilename)
	if _, ok := KindOf(name); !ok {
		return "", fmt.Errorf("unsupported map file %q", originalFilename)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	final := name
	for i := 1; ; i++ {
		if _, err := os.Stat(s.getFilePath(final)); errors.Is(err, os.ErrNotExist) {
			break
		}
		final = fmt.Sprintf("%s-%d%s", base, i, ext)
	}

	if err := moveFile(tempPath, s.getFilePath(final)); err != nil {
		return "", fmt.Errorf("failed to move uploaded file: %w", err)
	}
	if err := s.Scan(); err != nil {
		return "", err
	}

	for _, m := range s.Maps() {
		if m.Filename == final {
			s.logger.Info("Imported map file",
				zap.String("id", m.ID),
				zap.String("original_filename", originalFilename),
				zap.String("file", final))
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("imported file %s could not be read", final)
}

func moveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return err
	}
	if err := os.WriteFile(to, data, 0644); err != nil {
		return err
	}
	return os.Remove(from)
}

func (s *Scanner) getFilePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

func (s *Scanner) loadIndex() map[string]MapInfo {
	out := make(map[string]MapInfo)
	data, err := os.ReadFile(s.getFilePath(indexFile))
	if err != nil {
		return out
	}
	var list []MapInfo
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("Ignoring unreadable map index", zap.Error(err))
		return out
	}
	for _, m := range list {
		out[m.Filename] = m
	}
	return out
}

func (s *Scanner) saveIndex() error {
	data, err := json.MarshalIndent(s.maps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal map index: %w", err)
	}
	tmp := s.getFilePath(indexFile + ".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write map index: %w", err)
	}
	return os.Rename(tmp, s.getFilePath(indexFile))
}
