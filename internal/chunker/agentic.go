package chunker

import (
	"fmt"
	"math"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/pkg/textx"
)

// defaultBreakThreshold is the adjacent-sentence cosine similarity below which
// a topic boundary is assumed.
const defaultBreakThreshold = 0.72

// AgenticChunker places chunk boundaries at semantic topic shifts: sentences
// are embedded and a boundary opens wherever adjacent similarity drops below
// the threshold. Segments are then packed under the token budget. Each run
// consumes one agentic-chunking credit; the caller handles the reservation.
type AgenticChunker struct {
	AI        domain.AIClient
	Tokens    TokenCounter
	Budget    int
	Threshold float64
}

// NewAgenticChunker constructs an AgenticChunker with the default threshold.
func NewAgenticChunker(ai domain.AIClient, tokens TokenCounter, budget int) AgenticChunker {
	return AgenticChunker{AI: ai, Tokens: tokens, Budget: budget, Threshold: defaultBreakThreshold}
}

// Chunk splits text at semantic boundaries. Very short texts fall back to
// plain sentence packing.
func (c AgenticChunker) Chunk(ctx domain.Context, text string) ([]string, error) {
	sentences := textx.Sentences(text)
	if len(sentences) < 3 {
		return packSentences(sentences, c.Tokens, c.Budget), nil
	}

	vectors, err := c.AI.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("op=chunker.agentic: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("op=chunker.agentic: got %d vectors for %d sentences", len(vectors), len(sentences))
	}

	threshold := c.Threshold
	if threshold == 0 {
		threshold = defaultBreakThreshold
	}

	var chunks []string
	segment := []string{sentences[0]}
	for i := 1; i < len(sentences); i++ {
		if cosine(vectors[i-1], vectors[i]) < threshold {
			chunks = append(chunks, packSentences(segment, c.Tokens, c.Budget)...)
			segment = segment[:0]
		}
		segment = append(segment, sentences[i])
	}
	chunks = append(chunks, packSentences(segment, c.Tokens, c.Budget)...)
	return chunks, nil
}

// cosine returns the cosine similarity of two vectors, 0 for degenerate input.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
