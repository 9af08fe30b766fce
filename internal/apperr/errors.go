// Package apperr holds the error taxonomy shared by the ingestion pipeline
// and the query engine. Callers wrap these sentinels with the identifier of
// the failing unit and classify them with errors.Is.
package apperr

import "errors"

var (
	// ErrSourceUnavailable means the corpus root is missing or unreadable.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMappingCorrupt means the URL mapping file exists but cannot be parsed.
	ErrMappingCorrupt = errors.New("url mapping corrupt")
	// ErrConversion means a single document could not be normalized.
	ErrConversion = errors.New("markup conversion failed")
	// ErrEmbeddingFailed means a single chunk could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrEmptyPassage means a passage with empty text was rejected.
	ErrEmptyPassage = errors.New("empty passage")
	// ErrIndexConnectivity means the index backend could not be reached during a write.
	ErrIndexConnectivity = errors.New("index connectivity error")
	// ErrIndexUnavailable means the index is empty or unreachable at query time.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrInvalidConfiguration covers bad settings and embedding dimension mismatches.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidQuery means the caller supplied an empty query.
	ErrInvalidQuery = errors.New("invalid query")
)

// IsFatal reports whether err must terminate an ingestion run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIndexConnectivity) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrMappingCorrupt)
}

// HTTPStatus maps err to the error code and status code an API response carries.
func HTTPStatus(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrInvalidConfiguration):
		return "BAD_REQUEST", 400
	case errors.Is(err, ErrIndexUnavailable), errors.Is(err, ErrIndexConnectivity):
		return "INDEX_UNAVAILABLE", 503
	case errors.Is(err, ErrEmbeddingFailed):
		return "EMBEDDING_FAILED", 502
	default:
		return "INTERNAL_ERROR", 500
	}
}
