package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hyperjump/kaiwa/internal/config"
)

// Client calls an OpenAI-compatible /embeddings endpoint. Repeated texts are
// served from an LRU cache so re-ingesting a document does not re-bill every
// chunk.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	cache      *Cache
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client from config. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewClient(cfg *config.EmbeddingConfig) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key not set: export %s", cfg.APIKeyEnv)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		cache:      NewCache(cfg.CacheSize),
	}, nil
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vecs[0])
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, filling gaps from the cache.
// Either all texts get vectors or an error is returned.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			result[i] = v
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	vecs, err := c.request(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		i := missingIdx[j]
		result[i] = v
		c.cache.Set(texts[i], v)
	}
	return result, nil
}

func (c *Client) request(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrService, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrService, resp.StatusCode, truncateBody(data))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrService, parsed.Error.Message)
	}
	if len(parsed.Data) != len(input) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrService, len(parsed.Data), len(input))
	}

	vecs := make([][]float32, len(input))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrService, d.Index)
		}
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrService, len(d.Embedding), c.dimensions)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrService, i)
		}
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (c *Client) Close() error {
	return nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
