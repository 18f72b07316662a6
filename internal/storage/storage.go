// Package storage manages the on-disk asset directory where harvested
// generation outputs are kept.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetStore writes harvested files under a single root directory and maps
// them to the URLs the API serves them from.
type AssetStore struct {
	root string
}

// NewAssetStore creates the asset directory if needed.
func NewAssetStore(root string) (*AssetStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory %s: %w", root, err)
	}
	return &AssetStore{root: root}, nil
}

// Root returns the asset directory path, for static file serving.
func (s *AssetStore) Root() string { return s.root }

// NewFilename produces a collision-free local name for a harvested file,
// keeping the original extension so content type sniffing stays trivial.
func (s *AssetStore) NewFilename(original string) string {
	ext := filepath.Ext(original)
	if ext == "" {
		ext = ".png"
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s%s", stamp, uuid.NewString()[:8], ext)
}

// Write stores data under name inside the asset root. The name must be a
// bare filename; anything path-like is rejected.
func (s *AssetStore) Write(name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid asset filename %q", name)
	}
	path := filepath.Join(s.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset %s: %w", name, err)
	}
	return path, nil
}

// URL returns the API path a stored asset is served from.
func (s *AssetStore) URL(name string) string {
	return "/assets/files/" + name
}
