package ingest

import (
	"fmt"

	"github.com/hyperjump/kaiwa/internal/models"
)

// boundaryRunes are the characters a chunk prefers to end just after.
// Newlines and form feeds mark paragraph and page breaks; the rest end
// sentences.
func isBoundaryRune(r rune) bool {
	switch r {
	case '\n', '\f', '.', '!', '?':
		return true
	}
	return false
}

// Chunker splits extracted text into overlapping windows measured in runes.
// Windows prefer to break just after a sentence or paragraph boundary found
// within boundaryWindow runes of the nominal cut point.
type Chunker struct {
	size           int
	overlap        int
	boundaryWindow int
}

// NewChunker creates a chunker. Values that would prevent forward progress
// are clamped: overlap is reduced below size, and non-positive sizes fall
// back to 1.
func NewChunker(size, overlap, boundaryWindow int) *Chunker {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	if boundaryWindow < 0 {
		boundaryWindow = 0
	}
	return &Chunker{size: size, overlap: overlap, boundaryWindow: boundaryWindow}
}

// Chunk splits text into chunks for the given document. Offsets are rune
// positions into the extracted text. Chunk IDs derive from the document ID
// and sequence index, so re-chunking identical text yields identical chunks.
func (c *Chunker) Chunk(docID, text string) []*models.DocumentChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []*models.DocumentChunk
	start := 0
	for seq := 0; ; seq++ {
		end := start + c.size
		last := false
		if end >= len(runes) {
			end = len(runes)
			last = true
		} else {
			end = c.cutPoint(runes, start, end)
		}

		chunks = append(chunks, &models.DocumentChunk{
			ID:          fmt.Sprintf("%s-%04d", docID, seq),
			DocumentID:  docID,
			SeqIndex:    seq,
			Content:     string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if last {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cutPoint scans backwards from the nominal end looking for a boundary rune
// within the boundary window. Returns the position just after the boundary,
// or the nominal end when none is found. Never retreats past start+1, so
// every chunk is non-empty.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	limit := end - c.boundaryWindow
	if limit <= start+1 {
		limit = start + 1
	}
	for i := end; i > limit; i-- {
		if isBoundaryRune(runes[i-1]) {
			return i
		}
	}
	return end
}
