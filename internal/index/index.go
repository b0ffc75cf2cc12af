// Package index holds an in-memory vector index over document chunks.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// Result is one retrieval hit: the matching chunk, the document it came
// from, and the cosine similarity to the query.
type Result struct {
	Chunk    *models.DocumentChunk
	Filename string
	Score    float64
}

type entry struct {
	chunk      models.DocumentChunk
	filename   string
	ingestedAt time.Time
	vec        []float32
}

// Index stores normalized chunk embeddings and answers similarity queries.
// All vectors share one dimension; entries are appended atomically per
// document so a failed Add leaves the index unchanged.
type Index struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	dims     int
	entries  []entry
	docs     map[string]int
}

// New creates an empty index using embedder for both ingestion and queries.
func New(embedder embedding.Embedder) *Index {
	return &Index{
		embedder: embedder,
		dims:     embedder.Dimensions(),
		docs:     make(map[string]int),
	}
}

// Add embeds and indexes all chunks of a document. Either every chunk
// becomes queryable or none does.
func (ix *Index) Add(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks for %s: %w", doc.ID, err)
	}
	for i, v := range vecs {
		if ix.dims > 0 && len(v) != ix.dims {
			return fmt.Errorf("chunk %s: got %d dimensions, want %d", chunks[i].ID, len(v), ix.dims)
		}
		utils.NormalizeL2(v)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, c := range chunks {
		cc := *c
		cc.Embedding = vecs[i]
		ix.entries = append(ix.entries, entry{
			chunk:      cc,
			filename:   doc.Filename,
			ingestedAt: doc.IngestedAt,
			vec:        vecs[i],
		})
	}
	ix.docs[doc.ID] += len(chunks)
	return nil
}

// RemoveDocument drops all entries for a document, returning the count removed.
func (ix *Index) RemoveDocument(docID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	kept := ix.entries[:0]
	removed := 0
	for _, e := range ix.entries {
		if e.chunk.DocumentID == docID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	ix.entries = kept
	delete(ix.docs, docID)
	return removed
}

// Query embeds the query text and returns the topK most similar chunks.
// When scope is non-empty, only chunks from those documents are considered.
// Equal scores are broken by sequence index, then ingestion time, then
// document ID, so repeated queries over unchanged data return identical
// orderings.
func (ix *Index) Query(ctx context.Context, query string, topK int, scope []string) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if ix.dims > 0 && len(qv) != ix.dims {
		return nil, fmt.Errorf("query embedding: got %d dimensions, want %d", len(qv), ix.dims)
	}
	utils.NormalizeL2(qv)

	var scopeSet map[string]struct{}
	if len(scope) > 0 {
		scopeSet = make(map[string]struct{}, len(scope))
		for _, id := range scope {
			scopeSet[id] = struct{}{}
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		Result
		ingestedAt time.Time
	}
	hits := make([]scored, 0, len(ix.entries))
	for i := range ix.entries {
		e := &ix.entries[i]
		if scopeSet != nil {
			if _, ok := scopeSet[e.chunk.DocumentID]; !ok {
				continue
			}
		}
		hits = append(hits, scored{
			Result: Result{
				Chunk:    &e.chunk,
				Filename: e.filename,
				Score:    dot(qv, e.vec),
			},
			ingestedAt: e.ingestedAt,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.SeqIndex != b.Chunk.SeqIndex {
			return a.Chunk.SeqIndex < b.Chunk.SeqIndex
		}
		if !a.ingestedAt.Equal(b.ingestedAt) {
			return a.ingestedAt.Before(b.ingestedAt)
		}
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = h.Result
	}
	return results, nil
}

// Size returns the number of indexed chunks.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// DocumentCount returns the number of distinct indexed documents.
func (ix *Index) DocumentCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
