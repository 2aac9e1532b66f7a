// Package world loads and generates the obstacle snapshots the engine plans
// against.
package world

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hjson/hjson-go/v4"

	citynav "citynav"
	"citynav/internal/geom"
)

const maxFileSize = 8 * 1024 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses a snapshot document. Both strict JSON and Hjson (comments,
// unquoted keys, trailing commas) are accepted.
func Decode(data []byte) (citynav.World, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var w citynav.World
	if err := hjson.Unmarshal(data, &w); err != nil {
		return citynav.World{}, fmt.Errorf("decode world: %w", err)
	}
	return w, nil
}

// Load reads a .json or .hjson snapshot file.
func Load(path string) (citynav.World, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".hjson" {
		return citynav.World{}, fmt.Errorf("world file must have .json or .hjson extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return citynav.World{}, fmt.Errorf("failed to stat world file: %w", err)
	}
	if info.Size() > maxFileSize {
		return citynav.World{}, fmt.Errorf("world file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return citynav.World{}, fmt.Errorf("failed to read world file: %w", err)
	}
	w, err := Decode(data)
	if err != nil {
		return citynav.World{}, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return w, nil
}

// Summary counts what a snapshot contains and how much of it the grid builder
// will skip.
type Summary struct {
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	Buildings        int     `json:"buildings"`
	Roads            int     `json:"roads"`
	InvalidBuildings int     `json:"invalidBuildings"`
}

// Summarize inspects w without modifying it.
func Summarize(w citynav.World) Summary {
	s := Summary{
		Width:     w.Width,
		Height:    w.Height,
		Buildings: len(w.Buildings),
		Roads:     len(w.Roads),
	}
	for _, b := range w.Buildings {
		if !b.Valid() {
			s.InvalidBuildings++
		}
	}
	return s
}

// FileSource serves the last snapshot loaded from a file. Reload re-reads it;
// a failed reload keeps the previous snapshot.
type FileSource struct {
	path string

	mu      sync.RWMutex
	current citynav.World
}

// NewFileSource loads path once and returns a source serving it.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileSource) Path() string { return s.path }

// Reload re-reads the backing file.
func (s *FileSource) Reload() error {
	w, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	return nil
}

// Snapshot implements citynav.WorldSource.
func (s *FileSource) Snapshot() citynav.World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := s.current
	w.Buildings = append([]geom.Rect(nil), w.Buildings...)
	w.Roads = append([]geom.Segment(nil), w.Roads...)
	return w
}
