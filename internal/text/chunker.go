package text

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ragctx/internal/source"
)

const DefaultMaxChunkChars = 500

// Chunk is a bounded slice of a document's text, addressed by a stable id.
type Chunk struct {
	ID          string          `json:"chunk_id"`
	DocumentID  string          `json:"document_id"`
	Text        string          `json:"text"`
	Ordinal     int             `json:"ordinal"`
	TotalChunks int             `json:"total_chunks"`
	Metadata    source.Metadata `json:"metadata"`
}

// Size is the chunk length in characters.
func (c Chunk) Size() int {
	return utf8.RuneCountInString(c.Text)
}

func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, ordinal)
}

// Wrap greedily packs whitespace-separated words into lines of at most
// maxChars characters. A single word longer than maxChars is never split
// and becomes a line of its own.
func Wrap(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var (
		lines  []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+wl > maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	flush()

	return lines
}

// ChunkDocument splits doc into ordered chunks. Ordinals are contiguous from
// zero and every chunk carries the document metadata.
func ChunkDocument(doc source.NormalizedDocument, maxChars int) []Chunk {
	var pieces []string
	for _, line := range Wrap(doc.Text, maxChars) {
		if strings.TrimSpace(line) != "" {
			pieces = append(pieces, line)
		}
	}

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ID:          ChunkID(doc.ID, i),
			DocumentID:  doc.ID,
			Text:        piece,
			Ordinal:     i,
			TotalChunks: len(pieces),
			Metadata:    doc.Metadata,
		}
	}
	return chunks
}
