package usecase

import (
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/latticehq/lattice/internal/domain"
)

// rrfK is the Reciprocal Rank Fusion constant: rank r contributes 1/(k+r).
const rrfK = 60

// SearchService runs hybrid chunk search: keyword and vector retrieval in
// parallel, fused by RRF, with content hydrated lazily from object storage.
type SearchService struct {
	Keyword domain.KeywordIndex
	Vector  domain.VectorIndex
	AI      domain.AIClient
	Blobs   domain.BlobStore
}

// NewSearchService constructs a SearchService.
func NewSearchService(k domain.KeywordIndex, v domain.VectorIndex, ai domain.AIClient, b domain.BlobStore) SearchService {
	return SearchService{Keyword: k, Vector: v, AI: ai, Blobs: b}
}

// ChunkContentKey is the object-storage key holding one chunk's content.
func ChunkContentKey(companyID, documentID int64, chunkID string) string {
	return fmt.Sprintf("company/%d/documents/%d/chunks/%s.md", companyID, documentID, chunkID)
}

// ExtractedContentKey is the object-storage key of a document's combined
// extracted markdown.
func ExtractedContentKey(companyID, documentID int64) string {
	return fmt.Sprintf("company/%d/documents/%d/extracted.md", companyID, documentID)
}

// Hybrid returns the fused top chunks for a query. The keyword index is
// authoritative: a vector-side failure degrades to the keyword ranking alone.
func (s SearchService) Hybrid(ctx domain.Context, query string, f domain.ChunkFilters, skip, limit int) ([]domain.RankedChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	fetch := skip + limit

	var keywordHits, vectorHits []domain.RankedChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.Keyword.Search(gctx, query, f, fetch)
		if err != nil {
			return fmt.Errorf("op=search.keyword: %w", err)
		}
		keywordHits = hits
		return nil
	})
	g.Go(func() error {
		vectors, err := s.AI.Embed(gctx, []string{query})
		if err != nil {
			slog.Warn("embed failed, degrading to keyword-only", slog.Any("error", err))
			return nil
		}
		hits, err := s.Vector.Search(gctx, vectors[0], f, fetch)
		if err != nil {
			slog.Warn("vector search failed, degrading to keyword-only", slog.Any("error", err))
			return nil
		}
		vectorHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseRRF(keywordHits, vectorHits)
	if skip >= len(fused) {
		return nil, nil
	}
	fused = fused[skip:]
	if len(fused) > limit {
		fused = fused[:limit]
	}
	s.hydrate(ctx, f.CompanyID, fused)
	return fused, nil
}

// fuseRRF merges ranked lists by Reciprocal Rank Fusion. Ties break by chunk
// id for determinism.
func fuseRRF(lists ...[]domain.RankedChunk) []domain.RankedChunk {
	scores := make(map[string]float64)
	byID := make(map[string]domain.RankedChunk)
	for _, list := range lists {
		for rank, hit := range list {
			scores[hit.ChunkID] += 1.0 / float64(rrfK+rank+1)
			if _, ok := byID[hit.ChunkID]; !ok {
				byID[hit.ChunkID] = hit
			}
		}
	}
	out := make([]domain.RankedChunk, 0, len(scores))
	for id, score := range scores {
		hit := byID[id]
		hit.Score = score
		out = append(out, hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// hydrate fills chunk content from object storage; a missing object leaves
// the content empty rather than failing the search.
func (s SearchService) hydrate(ctx domain.Context, companyID int64, hits []domain.RankedChunk) {
	for i := range hits {
		if hits[i].Content != "" {
			continue
		}
		b, err := s.Blobs.Download(ctx, ChunkContentKey(companyID, hits[i].DocumentID, hits[i].ChunkID))
		if err != nil {
			slog.Warn("chunk content hydration failed",
				slog.String("chunk_id", hits[i].ChunkID), slog.Any("error", err))
			continue
		}
		hits[i].Content = string(b)
	}
}
