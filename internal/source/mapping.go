package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ragctx/internal/apperr"
)

// MappingEntry is one record of the crawler's URL mapping file, keyed by original URL.
type MappingEntry struct {
	LocalFilePath string `json:"local_file_path"`
	Title         string `json:"title"`
	Timestamp     string `json:"timestamp"`
	SizeBytes     int64  `json:"size_bytes"`
}

type mappedPage struct {
	url   string
	entry MappingEntry
}

// mapping indexes entries by cleaned local path.
type mapping map[string]mappedPage

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// loadMapping reads the mapping file. A missing file yields an empty mapping.
func loadMapping(path string) (mapping, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return mapping{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrMappingCorrupt, path, err)
	}

	var raw map[string]MappingEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrMappingCorrupt, path, err)
	}

	m := make(mapping, len(raw))
	for url, entry := range raw {
		if entry.LocalFilePath == "" {
			slog.Warn("mapping entry without local path", "url", url)
			continue
		}
		m[filepath.Clean(entry.LocalFilePath)] = mappedPage{url: url, entry: entry}
	}
	return m, nil
}

func (m mapping) lookup(sourcePath string) (mappedPage, bool) {
	p, ok := m[filepath.Clean(sourcePath)]
	return p, ok
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
