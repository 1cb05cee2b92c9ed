// Package qdrant provides a minimal Qdrant HTTP client implementing the
// vector index. The vector side of search is best-effort; callers degrade to
// keyword-only results when Qdrant is unavailable.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/internal/domain"
)

// Index is a Qdrant-backed vector index over one collection.
type Index struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// New constructs an Index with baseURL, optional apiKey and the collection
// holding chunk vectors.
func New(baseURL, apiKey, collection string) *Index {
	return &Index{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureCollection creates the collection if it does not exist.
func (ix *Index) EnsureCollection(ctx context.Context, vectorSize int) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", ix.baseURL, ix.collection), nil)
	ix.setHeaders(req)
	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	payload := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	b, _ := json.Marshal(payload)
	req, _ = http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", ix.baseURL, ix.collection), bytes.NewReader(b))
	ix.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err = ix.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.ensure: create status %d", resp.StatusCode)
	}
	return nil
}

// pointID derives a stable UUID from the chunk id so re-indexing upserts in
// place instead of duplicating points.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// UpsertChunk writes one chunk vector with its filterable payload.
func (ix *Index) UpsertChunk(ctx domain.Context, c domain.Chunk, vector []float32) error {
	payload := map[string]any{
		"chunk_id":    c.ID,
		"document_id": c.DocumentID,
		"company_id":  c.CompanyID,
	}
	for k, v := range c.Metadata {
		payload[k] = v
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(c.ID),
			"vector":  vector,
			"payload": payload,
		}},
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points", ix.baseURL, ix.collection), bytes.NewReader(b))
	ix.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.upsert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.upsert: status %d", resp.StatusCode)
	}
	return nil
}

// filterClause builds the Qdrant must-match filter from chunk filters. The
// tenant clause is always present.
func filterClause(f domain.ChunkFilters) map[string]any {
	must := []map[string]any{
		{"key": "company_id", "match": map[string]any{"value": f.CompanyID}},
	}
	if len(f.DocumentIDs) > 0 {
		must = append(must, map[string]any{"key": "document_id", "match": map[string]any{"any": f.DocumentIDs}})
	}
	if f.MatrixID != 0 {
		must = append(must, map[string]any{"key": "matrix_id", "match": map[string]any{"value": f.MatrixID}})
	}
	if f.EntitySetID != 0 {
		must = append(must, map[string]any{"key": "entity_set_id", "match": map[string]any{"value": f.EntitySetID}})
	}
	return map[string]any{"must": must}
}

// Search returns the top-limit nearest chunks matching the filters.
func (ix *Index) Search(ctx domain.Context, vector []float32, f domain.ChunkFilters, limit int) ([]domain.RankedChunk, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       filterClause(f),
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", ix.baseURL, ix.collection), bytes.NewReader(b))
	ix.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=qdrant.search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=qdrant.search: status %d", resp.StatusCode)
	}
	var out struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=qdrant.search: %w", err)
	}
	hits := make([]domain.RankedChunk, 0, len(out.Result))
	for _, r := range out.Result {
		rc := domain.RankedChunk{Score: r.Score, Metadata: r.Payload}
		if v, ok := r.Payload["chunk_id"].(string); ok {
			rc.ChunkID = v
		}
		if v, ok := r.Payload["document_id"].(float64); ok {
			rc.DocumentID = int64(v)
		}
		hits = append(hits, rc)
	}
	return hits, nil
}

// Ping checks Qdrant liveness.
func (ix *Index) Ping(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ix.baseURL+"/collections", nil)
	ix.setHeaders(req)
	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=qdrant.ping: status %d", resp.StatusCode)
	}
	return nil
}

func (ix *Index) setHeaders(req *http.Request) {
	if ix.apiKey != "" {
		req.Header.Set("api-key", ix.apiKey)
	}
}
