package postgres

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
)

// ChunkIndexRepo is the authoritative keyword index over document chunks,
// backed by Postgres full-text search. Chunk bodies live in object storage;
// the index keeps the searchable text and metadata only.
type ChunkIndexRepo struct{ Pool PgxPool }

// NewChunkIndexRepo constructs a ChunkIndexRepo with the given pool.
func NewChunkIndexRepo(p PgxPool) *ChunkIndexRepo { return &ChunkIndexRepo{Pool: p} }

// IndexChunk upserts one chunk into the keyword index.
func (r *ChunkIndexRepo) IndexChunk(ctx domain.Context, c domain.Chunk) error {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.IndexChunk")
	defer span.End()
	span.SetAttributes(attribute.String("chunk.id", c.ID))
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("op=chunk.index: %w", err)
	}
	q := `INSERT INTO chunk_index (chunk_id, document_id, company_id, content, metadata, content_tsv)
	      VALUES ($1,$2,$3,$4,$5, to_tsvector('english', $4))
	      ON CONFLICT (chunk_id) DO UPDATE SET content=EXCLUDED.content, metadata=EXCLUDED.metadata, content_tsv=EXCLUDED.content_tsv`
	if _, err := r.Pool.Exec(ctx, q, c.ID, c.DocumentID, c.CompanyID, c.Content, meta); err != nil {
		return fmt.Errorf("op=chunk.index: %w", err)
	}
	return nil
}

// Search returns ranked chunk hits for a query; content is not returned, the
// caller hydrates it lazily from object storage.
func (r *ChunkIndexRepo) Search(ctx domain.Context, query string, f domain.ChunkFilters, limit int) ([]domain.RankedChunk, error) {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.Search")
	defer span.End()

	q := `SELECT chunk_id, document_id, ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) AS score, metadata
	      FROM chunk_index
	      WHERE company_id=$2 AND content_tsv @@ plainto_tsquery('english', $1)`
	args := []any{query, f.CompanyID}
	if len(f.DocumentIDs) > 0 {
		args = append(args, f.DocumentIDs)
		q += fmt.Sprintf(` AND document_id = ANY($%d)`, len(args))
	}
	if f.MatrixID != 0 {
		args = append(args, f.MatrixID)
		q += fmt.Sprintf(` AND (metadata->>'matrix_id')::bigint = $%d`, len(args))
	}
	if f.EntitySetID != 0 {
		args = append(args, f.EntitySetID)
		q += fmt.Sprintf(` AND (metadata->>'entity_set_id')::bigint = $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY score DESC LIMIT $%d`, len(args))

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=chunk.search: %w", err)
	}
	defer rows.Close()
	var out []domain.RankedChunk
	for rows.Next() {
		var rc domain.RankedChunk
		var meta []byte
		if err := rows.Scan(&rc.ChunkID, &rc.DocumentID, &rc.Score, &meta); err != nil {
			return nil, fmt.Errorf("op=chunk.search: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rc.Metadata); err != nil {
				return nil, fmt.Errorf("op=chunk.search: %w", err)
			}
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
