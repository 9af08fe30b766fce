package source

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragctx/internal/apperr"
)

// Corpus is a loaded corpus root. Documents can be iterated any number of times.
type Corpus struct {
	root      string
	extension string
	mapping   mapping
}

type Option func(*Corpus)

// WithExtension selects which files count as markup documents.
func WithExtension(ext string) Option {
	return func(c *Corpus) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extension = strings.ToLower(ext)
	}
}

// Load validates the corpus root and reads the optional URL mapping.
// An empty mappingPath means "<root>/url_mapping.json".
func Load(root, mappingPath string, opts ...Option) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrSourceUnavailable, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperr.ErrSourceUnavailable, root)
	}

	if mappingPath == "" {
		mappingPath = filepath.Join(root, DefaultMappingFile)
	} else if _, err := os.Stat(mappingPath); err != nil {
		slog.Warn("url mapping not found, continuing without it", "path", mappingPath)
	}

	m, err := loadMapping(mappingPath)
	if err != nil {
		return nil, err
	}

	c := &Corpus{root: root, extension: DefaultExtension, mapping: m}
	for _, opt := range opts {
		opt(c)
	}

	slog.Info("corpus loaded", "root", root, "mapped_urls", len(m))
	return c, nil
}

func (c *Corpus) Root() string { return c.root }

// Documents walks the corpus in lexical path order. Unreadable files are
// logged and skipped; the only error yielded is context cancellation.
func (c *Corpus) Documents(ctx context.Context) iter.Seq2[RawDocument, error] {
	return func(yield func(RawDocument, error) bool) {
		paths, err := c.paths()
		if err != nil {
			yield(RawDocument{}, err)
			return
		}

		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				yield(RawDocument{}, err)
				return
			}

			doc, err := c.read(path)
			if err != nil {
				slog.WarnContext(ctx, "skipping unreadable document", "path", path, "error", err)
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (c *Corpus) paths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.root {
				return fmt.Errorf("%w: %s: %v", apperr.ErrSourceUnavailable, path, err)
			}
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.ToLower(filepath.Ext(path)) == c.extension {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (c *Corpus) read(path string) (RawDocument, error) {
	markup, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from walking the configured root
	if err != nil {
		return RawDocument{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return RawDocument{}, err
	}

	doc := RawDocument{
		SourcePath: path,
		RawMarkup:  markup,
		CapturedAt: info.ModTime().UTC(),
		Domain:     filepath.Base(filepath.Dir(path)),
		SizeBytes:  info.Size(),
	}

	if page, ok := c.mapping.lookup(path); ok {
		doc.OriginalURL = page.url
		doc.Title = strings.TrimSpace(page.entry.Title)
		if ts, ok := parseTimestamp(page.entry.Timestamp); ok {
			doc.CapturedAt = ts
		}
		if u, err := url.Parse(page.url); err == nil && u.Host != "" {
			doc.Domain = u.Host
		}
	}

	return doc, nil
}
