package screenshots

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"yomu/internal/metrics"
)

// RoutePrefix is the URL path the HTTP layer serves the directory under.
const RoutePrefix = "/instant-screenshots"

// Store persists screenshot bytes as uniquely named PNG files and hands
// out the URLs they are reachable at. Filenames are UUIDs, so no
// locking is needed for concurrent writers.
type Store struct {
	dir string
}

// New ensures the directory exists and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes the bytes as {kind}-{uuid}.png and returns the filename.
func (s *Store) Save(kind string, data []byte) (string, error) {
	name := fmt.Sprintf("%s-%s.png", kind, uuid.New().String())
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	metrics.RecordScreenshotWritten()
	return name, nil
}

// URLFor builds the externally visible URL for a stored file.
func (s *Store) URLFor(host, filename string) string {
	return "http://" + host + RoutePrefix + "/" + filename
}

// SweepOlderThan unlinks PNG files whose mtime is older than the given
// age and returns how many were removed.
func (s *Store) SweepOlderThan(age time.Duration) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read screenshot dir: %w", err)
	}

	cutoff := time.Now().Add(-age)
	var removed int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	metrics.RecordScreenshotsDeleted(removed)
	return removed, nil
}
