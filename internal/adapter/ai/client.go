// Package ai implements the AI provider client against an OpenAI-compatible
// API (OpenRouter in production). Chat answers cells with typed answers and
// citations; embeddings back the vector index.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
)

// Client implements domain.AIClient.
type Client struct {
	cfg     config.Config
	chatHC  *http.Client
	embedHC *http.Client
}

// New constructs a Client with separate timeouts for chat and embeddings.
func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		chatHC:  &http.Client{Timeout: 120 * time.Second},
		embedHC: &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: c.cfg.AIEmbedModel, Input: texts})
	var out embedResponse
	op := func() error {
		return c.post(ctx, c.embedHC, "/embeddings", body, &out)
	}
	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("op=ai.embed: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("op=ai.embed: got %d vectors for %d inputs", len(out.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("op=ai.embed: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// answerEnvelope is the JSON contract the model is prompted to emit.
type answerEnvelope struct {
	Answers []struct {
		Kind         string  `json:"kind"`
		Text         string  `json:"text,omitempty"`
		Date         string  `json:"date,omitempty"`
		Amount       float64 `json:"amount,omitempty"`
		CurrencyCode string  `json:"currency_code,omitempty"`
		OptionID     int64   `json:"option_id,omitempty"`
		OptionValue  string  `json:"option_value,omitempty"`
		Confidence   float64 `json:"confidence"`
		Citations    []struct {
			DocumentID int64  `json:"document_id"`
			QuoteText  string `json:"quote_text"`
		} `json:"citations"`
	} `json:"answers"`
}

const systemPrompt = `You answer questions about a set of documents using only the provided context.
Respond with a JSON object: {"answers":[{"kind":"TEXT|DATE|CURRENCY|SELECT",...,"confidence":0..1,"citations":[{"document_id":N,"quote_text":"..."}]}]}.
Quote text must be copied verbatim from the context. If the context does not answer the question, return {"answers":[]}.`

// GenerateAnswers answers one cell prompt with typed answers and citations.
// The answer count is clamped to [MinAnswers, MaxAnswers].
func (c *Client) GenerateAnswers(ctx domain.Context, req domain.AIRequest) (domain.AIAnswerSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", req.Question)
	if req.MaxAnswers > 0 {
		fmt.Fprintf(&sb, "Return between %d and %d answers.\n", req.MinAnswers, req.MaxAnswers)
	}
	sb.WriteString("\nContext:\n")
	for i, chunk := range req.ContextChunks {
		fmt.Fprintf(&sb, "--- chunk %d ---\n%s\n", i+1, chunk)
	}

	body, _ := json.Marshal(chatRequest{
		Model: c.cfg.AIChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})

	var out chatResponse
	op := func() error {
		return c.post(ctx, c.chatHC, "/chat/completions", body, &out)
	}
	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return domain.AIAnswerSet{}, fmt.Errorf("op=ai.generate: %w", err)
	}
	if len(out.Choices) == 0 {
		return domain.AIAnswerSet{}, fmt.Errorf("op=ai.generate: empty choices")
	}
	return parseAnswers(out.Choices[0].Message.Content, req.MaxAnswers)
}

// parseAnswers decodes the model output, dropping answers that fail domain
// validation rather than failing the whole set.
func parseAnswers(content string, maxAnswers int) (domain.AIAnswerSet, error) {
	content = strings.TrimSpace(content)
	// Some models wrap JSON in markdown fences despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var env answerEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return domain.AIAnswerSet{}, fmt.Errorf("op=ai.parse: %w", err)
	}
	var set domain.AIAnswerSet
	for _, a := range env.Answers {
		data := domain.AnswerData{
			Kind:         domain.AnswerKind(a.Kind),
			Text:         a.Text,
			Date:         a.Date,
			Amount:       a.Amount,
			CurrencyCode: a.CurrencyCode,
			OptionID:     a.OptionID,
			OptionValue:  a.OptionValue,
		}
		if err := data.Validate(); err != nil {
			slog.Warn("dropping malformed answer", slog.String("kind", a.Kind), slog.Any("error", err))
			continue
		}
		ans := domain.AIAnswer{Data: data, Confidence: a.Confidence}
		for _, cit := range a.Citations {
			if cit.QuoteText == "" {
				continue
			}
			ans.Citations = append(ans.Citations, domain.AICitation{
				DocumentID: cit.DocumentID,
				QuoteText:  cit.QuoteText,
			})
		}
		set.Answers = append(set.Answers, ans)
		if maxAnswers > 0 && len(set.Answers) >= maxAnswers {
			break
		}
	}
	return set, nil
}

// retryableError marks HTTP failures worth retrying (429 and 5xx).
type retryableError struct{ status int }

func (e *retryableError) Error() string { return fmt.Sprintf("ai status %d", e.status) }

func (c *Client) post(ctx domain.Context, hc *http.Client, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AIAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &retryableError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backoff.Permanent(fmt.Errorf("ai status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

func (c *Client) retryPolicy(ctx domain.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.AIMaxRetries), ctx)
}
