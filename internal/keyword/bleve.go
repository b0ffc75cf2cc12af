// Package keyword provides a Bleve index used as fallback retrieval when
// semantic search comes back empty.
package keyword

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/kaiwa/internal/models"
)

// Result is one keyword hit. The chunk content lives in storage; only
// identifiers and the Bleve score travel back.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// chunkDoc is the shape Bleve indexes per chunk.
type chunkDoc struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

// BleveIndex indexes chunk text for exact keyword matching.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path builds
// an in-memory index, which tests and ephemeral runs use.
// The standard analyzer (lowercase + tokenize, no stemming) keeps queries
// literal: "bayes" should not match "bayesian" via stemming surprises.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory keyword index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open keyword index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("filename", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)
	im.DefaultMapping = docMapping
	return im
}

// IndexChunks indexes all chunks of a document in one batch.
func (b *BleveIndex) IndexChunks(doc *models.Document, chunks []*models.DocumentChunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		err := batch.Index(c.ID, chunkDoc{
			Content:    c.Content,
			DocumentID: c.DocumentID,
			Filename:   doc.Filename,
		})
		if err != nil {
			return fmt.Errorf("batch chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("index chunks for %s: %w", doc.ID, err)
	}
	return nil
}

// Search runs a match query over chunk content and returns up to limit hits.
func (b *BleveIndex) Search(query string, limit int) ([]Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"document_id"}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docID, _ := hit.Fields["document_id"].(string)
		out = append(out, Result{ChunkID: hit.ID, DocumentID: docID, Score: hit.Score})
	}
	return out, nil
}

// DeleteDocument removes every chunk of a document from the index.
func (b *BleveIndex) DeleteDocument(docID string) error {
	q := bleve.NewTermQuery(docID)
	q.SetField("document_id")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000

	res, err := b.index.Search(req)
	if err != nil {
		return fmt.Errorf("find chunks for %s: %w", docID, err)
	}
	batch := b.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", docID, err)
	}
	return nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
