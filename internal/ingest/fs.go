// Package ingest discovers scanned form pages on disk and serves them to the
// pipeline as decoded images.
package ingest

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/internal/common"
)

// DirStats aggregates one directory scan.
type DirStats struct {
	Scanned int
	Matched int
	Failed  int
}

// FSSource maps document IDs to image files under a root directory. Scanning
// assigns the IDs; Fetch decodes lazily so a large batch does not hold every
// page in memory.
type FSSource struct {
	mu     sync.RWMutex
	paths  map[uuid.UUID]string
	logger *slog.Logger
}

func NewFSSource(logger *slog.Logger) *FSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSSource{paths: map[uuid.UUID]string{}, logger: logger}
}

// ScanDirectory walks root and registers every PNG/JPEG page found, skipping
// hidden entries. Returns the assigned document IDs in path order.
func (s *FSSource) ScanDirectory(root string) ([]uuid.UUID, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewAppError("INGEST", "root directory is required", common.ErrInvalidInput)
	}

	var (
		stats   DirStats
		matched []string
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			s.logger.Warn("ingest.walk_error", "path", path, "err", walkErr)
			stats.Failed++
			return nil
		}
		if isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png", ".jpg", ".jpeg":
			matched = append(matched, path)
		}
		return nil
	})
	if err != nil {
		return nil, stats, common.WrapError(err, "walk directory")
	}
	sort.Strings(matched)
	stats.Matched = len(matched)

	ids := make([]uuid.UUID, 0, len(matched))
	s.mu.Lock()
	for _, p := range matched {
		id := uuid.New()
		s.paths[id] = p
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("ingest.directory_scanned",
		"root", root, "scanned", stats.Scanned, "matched", stats.Matched, "failed", stats.Failed)
	return ids, stats, nil
}

// Path returns the file behind a document ID.
func (s *FSSource) Path(docID uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[docID]
	return p, ok
}

// Fetch decodes the page image for a scanned document.
func (s *FSSource) Fetch(ctx context.Context, docID uuid.UUID) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := s.Path(docID)
	if !ok {
		return nil, common.NewAppError("INGEST", "unknown document "+docID.String(), common.ErrNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, common.WrapError(err, "open page image")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, common.WrapError(err, "decode page image")
	}
	return img, nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != string(filepath.Separator)
}
