package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/internal/adapter/vector/qdrant"
	"github.com/latticehq/lattice/internal/domain"
)

func TestIndex_EnsureCollection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name: "collection already exists",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					w.WriteHeader(http.StatusOK)
					require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
				}
			},
			wantErr: false,
		},
		{
			name: "create new collection",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if r.Method == http.MethodPut {
					var payload map[string]any
					require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
					vectors := payload["vectors"].(map[string]any)
					assert.Equal(t, float64(768), vectors["size"])
					assert.Equal(t, "Cosine", vectors["distance"])
					w.WriteHeader(http.StatusOK)
					require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
				}
			},
			wantErr: false,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			ix := qdrant.New(server.URL, "test-api-key", "chunks")
			err := ix.EnsureCollection(context.Background(), 768)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIndex_UpsertChunk(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Contains(t, r.URL.Path, "/collections/chunks/points")

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			points := payload["points"].([]any)
			require.Len(t, points, 1)
			pt := points[0].(map[string]any)
			assert.NotEmpty(t, pt["id"])
			pl := pt["payload"].(map[string]any)
			assert.Equal(t, "41:0", pl["chunk_id"])
			assert.Equal(t, float64(41), pl["document_id"])
			assert.Equal(t, float64(7), pl["company_id"])

			w.WriteHeader(http.StatusOK)
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
		}))
	defer server.Close()

	ix := qdrant.New(server.URL, "", "chunks")
	err := ix.UpsertChunk(context.Background(), domain.Chunk{
		ID:         "41:0",
		DocumentID: 41,
		CompanyID:  7,
		Content:    "hello world",
	}, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
}

func TestIndex_SearchFilters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.URL.Path, "/collections/chunks/points/search")

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, float64(5), payload["limit"])

			filter := payload["filter"].(map[string]any)
			must := filter["must"].([]any)
			// tenant + document ids + matrix id
			assert.Len(t, must, 3)
			tenant := must[0].(map[string]any)
			assert.Equal(t, "company_id", tenant["key"])

			w.WriteHeader(http.StatusOK)
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{
					{"score": 0.95, "payload": map[string]any{"chunk_id": "41:0", "document_id": 41}},
					{"score": 0.85, "payload": map[string]any{"chunk_id": "42:3", "document_id": 42}},
				},
			}))
		}))
	defer server.Close()

	ix := qdrant.New(server.URL, "", "chunks")
	hits, err := ix.Search(context.Background(), []float32{0.1, 0.2}, domain.ChunkFilters{
		CompanyID:   7,
		DocumentIDs: []int64{41, 42},
		MatrixID:    3,
	}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "41:0", hits[0].ChunkID)
	assert.Equal(t, int64(41), hits[0].DocumentID)
	assert.InDelta(t, 0.95, hits[0].Score, 1e-9)
}

func TestIndex_SearchServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ix := qdrant.New(server.URL, "", "chunks")
	_, err := ix.Search(context.Background(), []float32{0.1}, domain.ChunkFilters{CompanyID: 1}, 10)
	require.Error(t, err)
}
