// Package source turns a crawled corpus directory into normalized documents.
//
// A corpus is a directory tree of markup files written by an external crawler,
// optionally accompanied by a URL mapping file that records the original URL,
// title and capture time of every file.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

const (
	DefaultMappingFile = "url_mapping.json"
	DefaultExtension   = ".html"
)

// RawDocument is one markup file found under the corpus root.
type RawDocument struct {
	SourcePath  string
	OriginalURL string
	Title       string
	RawMarkup   []byte
	CapturedAt  time.Time
	Domain      string
	SizeBytes   int64
}

// Metadata travels with a document and every chunk derived from it.
type Metadata struct {
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	Domain        string            `json:"domain"`
	FilePath      string            `json:"file_path"`
	Filename      string            `json:"filename"`
	SizeBytes     int64             `json:"size_bytes"`
	CapturedAt    time.Time         `json:"captured_at"`
	ContentLength int               `json:"content_length"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// NormalizedDocument is the plain-text rendition of a RawDocument.
type NormalizedDocument struct {
	ID       string   `json:"document_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// DocumentID derives a stable identifier from the document's source path.
func DocumentID(sourcePath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(filepath.Clean(sourcePath))))
	return hex.EncodeToString(sum[:8])
}
