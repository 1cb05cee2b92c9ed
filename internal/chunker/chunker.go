// Package chunker splits extracted document markdown into index-ready chunks.
// Two strategies exist: sentence packing under a token budget, and agentic
// chunking that places boundaries at semantic topic shifts using embeddings.
package chunker

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/latticehq/lattice/internal/domain"
)

// Chunker splits text into ordered chunks.
type Chunker interface {
	Chunk(ctx domain.Context, text string) ([]string, error)
}

// TokenCounter counts LLM tokens in a text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the cl100k_base encoding used by modern
// OpenAI-compatible models. If the encoding cannot be loaded it degrades to a
// words*4/3 approximation.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter constructs a TiktokenCounter; the encoding loads lazily
// on first use.
func NewTiktokenCounter() *TiktokenCounter { return &TiktokenCounter{} }

// Count returns the token count of text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("cl100k_base encoding unavailable, approximating token counts", slog.Any("error", err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return len(strings.Fields(text)) * 4 / 3
	}
	return len(c.enc.Encode(text, nil, nil))
}

// packSentences greedily packs sentences into chunks of at most budget tokens.
// A single sentence over budget becomes its own chunk rather than being split.
func packSentences(sentences []string, tokens TokenCounter, budget int) []string {
	if budget <= 0 {
		budget = 512
	}
	var chunks []string
	var current []string
	used := 0
	for _, s := range sentences {
		n := tokens.Count(s)
		if used > 0 && used+n > budget {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			used = 0
		}
		current = append(current, s)
		used += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
