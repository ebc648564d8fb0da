package puzzle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrPuzzleNotFound = errors.New("PUZZLE_NOT_FOUND: unknown puzzle id")
	ErrAssetMissing   = errors.New("ASSET_MISSING: puzzle image not on disk")
)

// UploadedDir is the fallback subdirectory probed for user-uploaded images.
const UploadedDir = "UploadedPuzzles"

// FileAssetStore resolves puzzle ids to image paths under a base directory.
// Lookup probes the direct path first, then the UploadedPuzzles fallback.
type FileAssetStore struct {
	dir     string
	mu      sync.RWMutex
	catalog map[string]string // puzzle id -> file name
}

func NewFileAssetStore(dir string) *FileAssetStore {
	return &FileAssetStore{
		dir:     dir,
		catalog: make(map[string]string),
	}
}

// LoadCatalog registers every image file found in the base directory and the
// uploaded fallback, keyed by file name without extension.
func (s *FileAssetStore) LoadCatalog() error {
	for _, dir := range []string{s.dir, filepath.Join(s.dir, UploadedDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read asset dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
				continue
			}
			id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			s.Register(id, e.Name())
		}
	}
	return nil
}

func (s *FileAssetStore) Register(id, fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.catalog[id]; !exists {
		s.catalog[id] = fileName
	}
}

// ImagePath returns the on-disk path for a puzzle id. The direct path is
// probed before the UploadedPuzzles fallback, in that order.
func (s *FileAssetStore) ImagePath(puzzleID string) (string, error) {
	s.mu.RLock()
	fileName, ok := s.catalog[puzzleID]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPuzzleNotFound, puzzleID)
	}

	direct := filepath.Join(s.dir, fileName)
	if fileExists(direct) {
		return direct, nil
	}

	uploaded := filepath.Join(s.dir, UploadedDir, fileName)
	if fileExists(uploaded) {
		return uploaded, nil
	}

	return "", fmt.Errorf("%w: %s", ErrAssetMissing, fileName)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
