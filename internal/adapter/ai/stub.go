package ai

import (
	"fmt"
	"hash/fnv"

	"github.com/latticehq/lattice/internal/domain"
)

// Stub is a fast, deterministic AI client for dev and tests.
type Stub struct {
	// Dim is the embedding dimensionality; defaults to 8 when zero.
	Dim int
}

// NewStub constructs a Stub.
func NewStub() *Stub { return &Stub{} }

// Embed returns small vectors derived from the text hash, so equal inputs
// produce equal vectors.
func (s *Stub) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	dim := s.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(t))
		seed := h.Sum64()
		v := make([]float32, dim)
		for j := range v {
			seed = seed*6364136223846793005 + 1442695040888963407
			v[j] = float32(seed%1000) / 1000
		}
		out[i] = v
	}
	return out, nil
}

// GenerateAnswers returns one TEXT answer echoing the question, citing the
// first document when any are in scope.
func (s *Stub) GenerateAnswers(_ domain.Context, req domain.AIRequest) (domain.AIAnswerSet, error) {
	ans := domain.AIAnswer{
		Data: domain.AnswerData{
			Kind: domain.AnswerText,
			Text: fmt.Sprintf("Stub answer for: %s", req.Question),
		},
		Confidence: 0.9,
	}
	if len(req.DocumentIDs) > 0 && len(req.ContextChunks) > 0 {
		ans.Citations = []domain.AICitation{{
			DocumentID: req.DocumentIDs[0],
			QuoteText:  req.ContextChunks[0],
		}}
	}
	return domain.AIAnswerSet{Answers: []domain.AIAnswer{ans}}, nil
}
