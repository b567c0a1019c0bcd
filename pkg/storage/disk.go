package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DiskStore stores artifacts as PNG files under a root directory, one
// subdirectory per user. Locators are paths relative to the root.
type DiskStore struct {
	root   string
	logger *zap.Logger
}

var _ ArtifactStore = (*DiskStore)(nil)

// NewDiskStore creates a disk-backed artifact store rooted at dir,
// creating the directory if needed.
func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &DiskStore{root: dir, logger: logger.Named("storage")}, nil
}

// Save writes the bytes to a fresh file and returns its locator. Each
// artifact gets a distinct name, so concurrent saves never contend.
func (s *DiskStore) Save(ctx context.Context, userID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	userDir := filepath.Join(s.root, sanitizePathComponent(userID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create user artifact directory: %w", err)
	}

	name := uuid.New().String() + ".png"
	path := filepath.Join(userDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	locator := filepath.ToSlash(filepath.Join(sanitizePathComponent(userID), name))
	s.logger.Debug("artifact saved",
		zap.String("locator", locator),
		zap.Int("bytes", len(data)))

	return locator, nil
}

// Load reads back the bytes behind a locator.
func (s *DiskStore) Load(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Locators are produced by Save and must stay inside the root.
	clean := filepath.Clean(filepath.FromSlash(locator))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid artifact locator %q", locator)
	}

	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// sanitizePathComponent keeps user-supplied ids from escaping the root.
// Discord snowflakes are numeric, so this is a narrow allowlist.
func sanitizePathComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
