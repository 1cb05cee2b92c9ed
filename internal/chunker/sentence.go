package chunker

import (
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/pkg/textx"
)

// SentenceChunker packs whole sentences into chunks under a token budget. It
// is the default, quota-free strategy.
type SentenceChunker struct {
	Tokens TokenCounter
	Budget int
}

// NewSentenceChunker constructs a SentenceChunker.
func NewSentenceChunker(tokens TokenCounter, budget int) SentenceChunker {
	return SentenceChunker{Tokens: tokens, Budget: budget}
}

// Chunk splits text into sentence-packed chunks.
func (c SentenceChunker) Chunk(_ domain.Context, text string) ([]string, error) {
	return packSentences(textx.Sentences(text), c.Tokens, c.Budget), nil
}
