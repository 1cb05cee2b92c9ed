package app

import (
	"context"
	"log/slog"

	qdrantidx "github.com/latticehq/lattice/internal/adapter/vector/qdrant"
	"github.com/latticehq/lattice/internal/config"
)

// EnsureChunkCollection creates the chunk vector collection if missing. The
// vector index is best effort, so failure logs and continues.
func EnsureChunkCollection(ctx context.Context, ix *qdrantidx.Index, cfg config.Config) {
	if ix == nil {
		return
	}
	if err := ix.EnsureCollection(ctx, cfg.EmbeddingDim); err != nil {
		slog.Warn("qdrant ensure collection failed",
			slog.String("collection", cfg.QdrantCollection), slog.Any("error", err))
	}
}
