// Package opensearch stores item embeddings in an OpenSearch k-NN index.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// DefaultIndex is the index name used when none is configured.
const DefaultIndex = "ai_progress"

// Config configures the OpenSearch connection.
type Config struct {
	Addresses  []string
	Username   string
	Password   string
	Index      string
	Dimensions int
	Insecure   bool
}

// Index is a k-NN vector index.
type Index struct {
	client *opensearch.Client
	index  string
	dims   int
}

// NewClient builds an OpenSearch client from cfg.
func NewClient(cfg Config) (*opensearch.Client, error) {
	osCfg := opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.Insecure {
		osCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // local clusters use self-signed certs
		}
	}
	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return client, nil
}

// New wraps a client.
func New(client *opensearch.Client, index string, dims int) *Index {
	if index == "" {
		index = DefaultIndex
	}
	return &Index{client: client, index: index, dims: dims}
}

// EnsureIndex creates the index with a knn_vector mapping when missing.
func (x *Index) EnsureIndex(ctx context.Context) error {
	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{x.index}}.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", x.index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}
	if exists.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: %s", x.index, exists.String())
	}

	mapping := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": x.dims,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
				"document": map[string]any{"type": "text"},
				"source":   map[string]any{"type": "keyword"},
				"title":    map[string]any{"type": "text"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err := opensearchapi.IndicesCreateRequest{Index: x.index, Body: bytes.NewReader(body)}.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", x.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", x.index, res.String())
	}
	return nil
}

type document struct {
	Embedding []float32 `json:"embedding"`
	Document  string    `json:"document"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
}

// Upsert implements engine.VectorIndex. The item id is the document id, so
// re-indexing replaces the previous vector.
func (x *Index) Upsert(ctx context.Context, rec engine.EmbeddingRecord) error {
	if rec.ID == "" {
		return errors.New("embedding id is required")
	}
	if x.dims > 0 && len(rec.Vector) != x.dims {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(rec.Vector), x.dims)
	}
	body, err := json.Marshal(document{
		Embedding: rec.Vector,
		Document:  rec.Document,
		Source:    rec.Metadata.Source,
		Title:     rec.Metadata.Title,
	})
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	res, err := opensearchapi.IndexRequest{
		Index:      x.index,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("index embedding %s: %w", rec.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index embedding %s: %s", rec.ID, res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID    string  `json:"_id"`
			Score float64 `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query implements engine.VectorIndex. OpenSearch reports cosine similarity
// as 1/(1+d); the score is converted back to that distance.
func (x *Index) Query(ctx context.Context, vector []float32, topK int) ([]engine.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := map[string]any{
		"size":    topK,
		"_source": false,
		"query": map[string]any{
			"knn": map[string]any{
				"embedding": map[string]any{"vector": vector, "k": topK},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal knn query: %w", err)
	}
	res, err := opensearchapi.SearchRequest{Index: []string{x.index}, Body: bytes.NewReader(body)}.Do(ctx, x.client)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("knn query: %s", res.String())
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}
	out := make([]engine.VectorMatch, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		dist := 0.0
		if h.Score > 0 {
			dist = 1/h.Score - 1
		}
		out = append(out, engine.VectorMatch{ID: h.ID, Distance: dist})
	}
	return out, nil
}
