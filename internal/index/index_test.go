package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

// stubEmbedder returns preassigned vectors so similarity scores in tests are
// exact.
type stubEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) Close() error    { return nil }

func testDoc(id string, ingestedAt time.Time) *models.Document {
	return &models.Document{ID: id, Filename: id + ".txt", Format: models.FormatTXT, IngestedAt: ingestedAt}
}

func testChunk(docID string, seq int, content string) *models.DocumentChunk {
	return &models.DocumentChunk{
		ID:         fmt.Sprintf("%s-%04d", docID, seq),
		DocumentID: docID,
		SeqIndex:   seq,
		Content:    content,
	}
}

func TestIndex_AddAndQuery(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"apple":  {1, 0},
		"orange": {0, 1},
		"mixed":  {1, 1},
		"query":  {1, 0},
	}}
	ix := New(emb)
	now := time.Now().UTC()

	err := ix.Add(context.Background(), testDoc("d1", now), []*models.DocumentChunk{
		testChunk("d1", 0, "apple"),
		testChunk("d1", 1, "orange"),
		testChunk("d1", 2, "mixed"),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ix.Size() != 3 {
		t.Fatalf("Size = %d, want 3", ix.Size())
	}

	results, err := ix.Query(context.Background(), "query", 2, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.Content != "apple" {
		t.Errorf("top result = %q, want apple", results[0].Chunk.Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not sorted by score: %f then %f", results[0].Score, results[1].Score)
	}
	if results[0].Filename != "d1.txt" {
		t.Errorf("Filename = %q", results[0].Filename)
	}
}

func TestIndex_QueryScope(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"a": {1, 0}, "b": {1, 0}, "q": {1, 0},
	}}
	ix := New(emb)
	now := time.Now().UTC()
	_ = ix.Add(context.Background(), testDoc("d1", now), []*models.DocumentChunk{testChunk("d1", 0, "a")})
	_ = ix.Add(context.Background(), testDoc("d2", now), []*models.DocumentChunk{testChunk("d2", 0, "b")})

	results, err := ix.Query(context.Background(), "q", 10, []string{"d2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.DocumentID != "d2" {
		t.Fatalf("scope ignored: %+v", results)
	}
}

func TestIndex_QueryTieBreak(t *testing.T) {
	// All chunks identical to the query: ordering must fall back to sequence
	// index, then ingestion time, then document ID.
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"same": {1, 0}, "q": {1, 0},
	}}
	ix := New(emb)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	_ = ix.Add(context.Background(), testDoc("db", newer), []*models.DocumentChunk{
		testChunk("db", 0, "same"), testChunk("db", 1, "same"),
	})
	_ = ix.Add(context.Background(), testDoc("da", older), []*models.DocumentChunk{
		testChunk("da", 0, "same"),
	})

	results, err := ix.Query(context.Background(), "q", 10, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	wantIDs := []string{"da-0000", "db-0000", "db-0001"}
	for i, want := range wantIDs {
		if results[i].Chunk.ID != want {
			t.Errorf("result %d = %s, want %s", i, results[i].Chunk.ID, want)
		}
	}

	// Deterministic across repeated queries.
	again, _ := ix.Query(context.Background(), "q", 10, nil)
	for i := range results {
		if results[i].Chunk.ID != again[i].Chunk.ID {
			t.Fatal("ordering changed between identical queries")
		}
	}
}

func TestIndex_AddAllOrNothing(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{"known": {1, 0}}}
	ix := New(emb)
	now := time.Now().UTC()

	err := ix.Add(context.Background(), testDoc("d1", now), []*models.DocumentChunk{
		testChunk("d1", 0, "known"),
		testChunk("d1", 1, "unknown text"),
	})
	if err == nil {
		t.Fatal("expected error for unembeddable chunk")
	}
	if ix.Size() != 0 {
		t.Errorf("Size = %d after failed Add, want 0", ix.Size())
	}
}

func TestIndex_RemoveDocument(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{"a": {1, 0}}}
	ix := New(emb)
	now := time.Now().UTC()
	_ = ix.Add(context.Background(), testDoc("d1", now), []*models.DocumentChunk{
		testChunk("d1", 0, "a"), testChunk("d1", 1, "a"),
	})
	_ = ix.Add(context.Background(), testDoc("d2", now), []*models.DocumentChunk{testChunk("d2", 0, "a")})

	if n := ix.RemoveDocument("d1"); n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if ix.Size() != 1 {
		t.Errorf("Size = %d, want 1", ix.Size())
	}
	if ix.DocumentCount() != 1 {
		t.Errorf("DocumentCount = %d, want 1", ix.DocumentCount())
	}
}

func TestIndex_SaveLoad(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"apple": {1, 0}, "orange": {0, 1}, "q": {1, 0},
	}}
	ix := New(emb)
	ingested := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = ix.Add(context.Background(), testDoc("d1", ingested), []*models.DocumentChunk{
		testChunk("d1", 0, "apple"),
		testChunk("d1", 1, "orange"),
	})

	path := filepath.Join(t.TempDir(), "vectors.idx")
	if err := ix.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := New(emb)
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.Size() != 2 {
		t.Fatalf("restored Size = %d, want 2", restored.Size())
	}

	results, err := restored.Query(context.Background(), "q", 1, nil)
	if err != nil {
		t.Fatalf("Query after Load: %v", err)
	}
	if results[0].Chunk.Content != "apple" {
		t.Errorf("top result = %q, want apple", results[0].Chunk.Content)
	}
	if results[0].Filename != "d1.txt" {
		t.Errorf("Filename = %q after reload", results[0].Filename)
	}
}

func TestIndex_LoadMissingFile(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{}}
	ix := New(emb)
	if err := ix.Load(filepath.Join(t.TempDir(), "absent.idx")); err != nil {
		t.Fatalf("Load of missing file should be a no-op, got %v", err)
	}
	if ix.Size() != 0 {
		t.Errorf("Size = %d", ix.Size())
	}
}

func TestIndex_QueryInvalidTopK(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{}}
	ix := New(emb)
	if _, err := ix.Query(context.Background(), "q", 0, nil); err == nil {
		t.Fatal("expected error for topK = 0")
	}
}

func TestIndex_QueryDimensionMismatch(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"indexed text": {1, 0},
		"bad query":    {1, 0, 1},
	}}
	ix := New(emb)
	doc := testDoc("d1", time.Now().UTC())
	if err := ix.Add(context.Background(), doc, []*models.DocumentChunk{testChunk("d1", 0, "indexed text")}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// An over-length query vector must be rejected, not walked past the
	// entry vectors' bounds.
	if _, err := ix.Query(context.Background(), "bad query", 5, nil); err == nil {
		t.Fatal("expected error for mismatched query dimensions")
	}
}
