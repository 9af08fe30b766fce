package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"ragctx/internal/apperr"
)

// Converter renders markup as plain text.
type Converter interface {
	Convert(ctx context.Context, markup []byte) (string, error)
}

// Normalize converts raw into a NormalizedDocument, bounded by timeout.
// Missing titles fall back to the file stem and missing URLs to the source path.
func Normalize(ctx context.Context, conv Converter, raw RawDocument, timeout time.Duration) (NormalizedDocument, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err := conv.Convert(ctx, raw.RawMarkup)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return NormalizedDocument{}, fmt.Errorf("%w: %s: %v", apperr.ErrConversion, raw.SourcePath, err)
	}
	text = strings.TrimSpace(text)

	filename := filepath.Base(raw.SourcePath)
	title := raw.Title
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	originalURL := raw.OriginalURL
	if originalURL == "" {
		originalURL = raw.SourcePath
	}

	return NormalizedDocument{
		ID:   DocumentID(raw.SourcePath),
		Text: text,
		Metadata: Metadata{
			Title:         title,
			URL:           originalURL,
			Domain:        raw.Domain,
			FilePath:      raw.SourcePath,
			Filename:      filename,
			SizeBytes:     raw.SizeBytes,
			CapturedAt:    raw.CapturedAt,
			ContentLength: utf8.RuneCountInString(text),
		},
	}, nil
}
