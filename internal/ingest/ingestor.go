package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// VectorIndex receives a document's chunks for semantic retrieval. Add must
// be all-or-nothing: on error the index is unchanged.
type VectorIndex interface {
	Add(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error
	RemoveDocument(docID string) int
}

// KeywordIndex receives a document's chunks for keyword fallback retrieval.
type KeywordIndex interface {
	IndexChunks(doc *models.Document, chunks []*models.DocumentChunk) error
	DeleteDocument(docID string) error
}

// Ingestor turns uploaded files into stored, indexed documents. A document
// either becomes fully queryable or leaves no trace; partial failures roll
// back storage and index state.
type Ingestor struct {
	store    storage.Storage
	vectors  VectorIndex
	keywords KeywordIndex
	chunker  *Chunker
	maxBytes int64
	logger   *zap.Logger

	clock func() time.Time
	newID func() string
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Ingestor) { g.logger = logger }
}

// NewIngestor creates an ingestor wired to storage and both indexes.
func NewIngestor(store storage.Storage, vectors VectorIndex, keywords KeywordIndex, cfg *config.IngestConfig, opts ...Option) *Ingestor {
	g := &Ingestor{
		store:    store,
		vectors:  vectors,
		keywords: keywords,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.BoundaryWindow),
		maxBytes: cfg.MaxFileSizeBytes(),
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ingest validates, extracts, chunks, stores, and indexes one uploaded file.
func (g *Ingestor) Ingest(ctx context.Context, filename string, content []byte) (*models.Document, []*models.DocumentChunk, error) {
	if g.maxBytes > 0 && int64(len(content)) > g.maxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(content), g.maxBytes)
	}

	format, err := DetectFormat(filename, content)
	if err != nil {
		return nil, nil, err
	}
	text, err := ExtractText(format, content)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyDocument, filename)
	}

	doc := &models.Document{
		ID:         g.newID(),
		Filename:   filename,
		Format:     format,
		SizeBytes:  int64(len(content)),
		IngestedAt: g.clock(),
	}
	chunks := g.chunker.Chunk(doc.ID, text)

	if err := g.store.CreateDocument(doc); err != nil {
		return nil, nil, fmt.Errorf("store document: %w", err)
	}
	if err := g.store.BatchCreateChunks(chunks); err != nil {
		g.rollbackStorage(doc.ID)
		return nil, nil, fmt.Errorf("store chunks: %w", err)
	}
	if err := g.vectors.Add(ctx, doc, chunks); err != nil {
		g.rollbackStorage(doc.ID)
		return nil, nil, fmt.Errorf("index document: %w", err)
	}
	if err := g.keywords.IndexChunks(doc, chunks); err != nil {
		g.vectors.RemoveDocument(doc.ID)
		g.rollbackStorage(doc.ID)
		return nil, nil, fmt.Errorf("keyword index document: %w", err)
	}

	g.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("filename", utils.Truncate(filename, 120)),
		zap.String("format", string(format)),
		zap.Int("chunks", len(chunks)))
	return doc, chunks, nil
}

// Delete removes a document from both indexes and storage.
func (g *Ingestor) Delete(docID string) error {
	if err := g.keywords.DeleteDocument(docID); err != nil {
		return fmt.Errorf("keyword index delete: %w", err)
	}
	g.vectors.RemoveDocument(docID)
	if err := g.store.DeleteChunksByDocumentID(docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := g.store.DeleteDocument(docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	g.logger.Info("document deleted", zap.String("document_id", docID))
	return nil
}

func (g *Ingestor) rollbackStorage(docID string) {
	if err := g.store.DeleteChunksByDocumentID(docID); err != nil {
		g.logger.Warn("rollback: delete chunks", zap.String("document_id", docID), zap.Error(err))
	}
	if err := g.store.DeleteDocument(docID); err != nil {
		g.logger.Warn("rollback: delete document", zap.String("document_id", docID), zap.Error(err))
	}
}
