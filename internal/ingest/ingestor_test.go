package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

type fakeStore struct {
	docs   map[string]*models.Document
	chunks map[string]*models.DocumentChunk

	failCreateChunks bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string]*models.DocumentChunk),
	}
}

func (f *fakeStore) CreateDocument(doc *models.Document) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) GetDocument(id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) ListDocuments() ([]*models.Document, error) {
	var out []*models.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) DeleteDocument(id string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) BatchCreateChunks(chunks []*models.DocumentChunk) error {
	if f.failCreateChunks {
		return fmt.Errorf("disk full")
	}
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeStore) GetChunk(id string) (*models.DocumentChunk, error) {
	c, ok := f.chunks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetChunksByDocumentID(docID string) ([]*models.DocumentChunk, error) {
	var out []*models.DocumentChunk
	for _, c := range f.chunks {
		if c.DocumentID == docID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteChunksByDocumentID(docID string) error {
	for id, c := range f.chunks {
		if c.DocumentID == docID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeStore) CreateSession(string, time.Time) error { return nil }
func (f *fakeStore) CloseSession(string, time.Time) error  { return nil }
func (f *fakeStore) CountDocuments() (int, error)          { return len(f.docs), nil }
func (f *fakeStore) CountChunks() (int, error)             { return len(f.chunks), nil }
func (f *fakeStore) Close() error                          { return nil }

type fakeVectors struct {
	added   map[string]int
	failAdd bool
}

func (f *fakeVectors) Add(_ context.Context, doc *models.Document, chunks []*models.DocumentChunk) error {
	if f.failAdd {
		return fmt.Errorf("embedding backend down")
	}
	if f.added == nil {
		f.added = make(map[string]int)
	}
	f.added[doc.ID] = len(chunks)
	return nil
}

func (f *fakeVectors) RemoveDocument(docID string) int {
	n := f.added[docID]
	delete(f.added, docID)
	return n
}

type fakeKeywords struct {
	indexed   map[string]int
	failIndex bool
}

func (f *fakeKeywords) IndexChunks(doc *models.Document, chunks []*models.DocumentChunk) error {
	if f.failIndex {
		return fmt.Errorf("index locked")
	}
	if f.indexed == nil {
		f.indexed = make(map[string]int)
	}
	f.indexed[doc.ID] = len(chunks)
	return nil
}

func (f *fakeKeywords) DeleteDocument(docID string) error {
	delete(f.indexed, docID)
	return nil
}

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{ChunkSize: 100, ChunkOverlap: 20, BoundaryWindow: 15, MaxFileSizeMB: 1}
}

func TestIngestor_Ingest(t *testing.T) {
	store := newFakeStore()
	vectors := &fakeVectors{}
	keywords := &fakeKeywords{}
	g := NewIngestor(store, vectors, keywords, testIngestConfig())

	content := []byte(strings.Repeat("The report covers quarterly revenue. ", 20))
	doc, chunks, err := g.Ingest(context.Background(), "report.txt", content)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.Format != models.FormatTXT {
		t.Errorf("format = %q", doc.Format)
	}
	if doc.SizeBytes != int64(len(content)) {
		t.Errorf("size = %d, want %d", doc.SizeBytes, len(content))
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	if _, ok := store.docs[doc.ID]; !ok {
		t.Error("document not stored")
	}
	if len(store.chunks) != len(chunks) {
		t.Errorf("stored %d chunks, want %d", len(store.chunks), len(chunks))
	}
	if vectors.added[doc.ID] != len(chunks) {
		t.Errorf("vector index got %d chunks, want %d", vectors.added[doc.ID], len(chunks))
	}
	if keywords.indexed[doc.ID] != len(chunks) {
		t.Errorf("keyword index got %d chunks, want %d", keywords.indexed[doc.ID], len(chunks))
	}
}

func TestIngestor_UnsupportedFormat(t *testing.T) {
	g := NewIngestor(newFakeStore(), &fakeVectors{}, &fakeKeywords{}, testIngestConfig())
	_, _, err := g.Ingest(context.Background(), "image.png", []byte{0x89, 0x50, 0x4E, 0x47})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestIngestor_EmptyDocument(t *testing.T) {
	store := newFakeStore()
	g := NewIngestor(store, &fakeVectors{}, &fakeKeywords{}, testIngestConfig())
	_, _, err := g.Ingest(context.Background(), "blank.txt", []byte("   \n\t  "))
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("error = %v, want ErrEmptyDocument", err)
	}
	if len(store.docs) != 0 {
		t.Error("empty document was stored")
	}
}

func TestIngestor_FileTooLarge(t *testing.T) {
	g := NewIngestor(newFakeStore(), &fakeVectors{}, &fakeKeywords{}, testIngestConfig())
	big := make([]byte, 2<<20)
	_, _, err := g.Ingest(context.Background(), "big.txt", big)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestIngestor_RollbackOnVectorFailure(t *testing.T) {
	store := newFakeStore()
	vectors := &fakeVectors{failAdd: true}
	g := NewIngestor(store, vectors, &fakeKeywords{}, testIngestConfig())

	_, _, err := g.Ingest(context.Background(), "doc.txt", []byte("some text to ingest"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.docs) != 0 || len(store.chunks) != 0 {
		t.Errorf("storage not rolled back: %d docs, %d chunks", len(store.docs), len(store.chunks))
	}
}

func TestIngestor_RollbackOnKeywordFailure(t *testing.T) {
	store := newFakeStore()
	vectors := &fakeVectors{}
	keywords := &fakeKeywords{failIndex: true}
	g := NewIngestor(store, vectors, keywords, testIngestConfig())

	_, _, err := g.Ingest(context.Background(), "doc.txt", []byte("some text to ingest"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.docs) != 0 || len(store.chunks) != 0 {
		t.Errorf("storage not rolled back: %d docs, %d chunks", len(store.docs), len(store.chunks))
	}
	if len(vectors.added) != 0 {
		t.Error("vector index not rolled back")
	}
}

func TestIngestor_Delete(t *testing.T) {
	store := newFakeStore()
	vectors := &fakeVectors{}
	keywords := &fakeKeywords{}
	g := NewIngestor(store, vectors, keywords, testIngestConfig())

	doc, _, err := g.Ingest(context.Background(), "doc.txt", []byte("some text to ingest"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := g.Delete(doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(store.docs) != 0 || len(store.chunks) != 0 {
		t.Error("storage still holds the document")
	}
	if len(vectors.added) != 0 || len(keywords.indexed) != 0 {
		t.Error("indexes still hold the document")
	}
}
