// Package extractor is a minimal HTTP client for the document extraction
// service, which converts stored documents to per-page markdown. Simple
// formats extract in one call; PDFs run as asynchronous operations that the
// extraction workflow polls.
package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/pkg/textx"
)

// Client talks to the extraction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type extractRequest struct {
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`
}

type extractResponse struct {
	Pages []string `json:"pages"`
}

// ExtractSync extracts a simple-format document (text, DOCX, spreadsheets)
// in one call and returns sanitized per-page markdown.
func (c *Client) ExtractSync(ctx domain.Context, storageKey, contentType string) ([]string, error) {
	b, _ := json.Marshal(extractRequest{StorageKey: storageKey, ContentType: contentType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=extractor.sync: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=extractor.sync: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=extractor.sync: status %d", resp.StatusCode)
	}
	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=extractor.sync: %w", err)
	}
	return sanitizePages(out.Pages), nil
}

// StartAsync begins extraction of a multi-page document and returns the
// operation id to poll.
func (c *Client) StartAsync(ctx domain.Context, storageKey, contentType string) (string, error) {
	b, _ := json.Marshal(extractRequest{StorageKey: storageKey, ContentType: contentType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract/async", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("op=extractor.start: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=extractor.start: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=extractor.start: status %d", resp.StatusCode)
	}
	var out struct {
		OperationID string `json:"operation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=extractor.start: %w", err)
	}
	if out.OperationID == "" {
		return "", fmt.Errorf("op=extractor.start: empty operation id")
	}
	return out.OperationID, nil
}

// Status reports whether the operation finished; pages are valid only when
// done is true.
func (c *Client) Status(ctx domain.Context, operationID string) (bool, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/operations/"+operationID, nil)
	if err != nil {
		return false, nil, fmt.Errorf("op=extractor.status: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("op=extractor.status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil, fmt.Errorf("op=extractor.status: %w", domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil, fmt.Errorf("op=extractor.status: status %d", resp.StatusCode)
	}
	var out struct {
		Done  bool     `json:"done"`
		Error string   `json:"error"`
		Pages []string `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, nil, fmt.Errorf("op=extractor.status: %w", err)
	}
	if out.Error != "" {
		return true, nil, fmt.Errorf("op=extractor.status: %s", out.Error)
	}
	if !out.Done {
		return false, nil, nil
	}
	return true, sanitizePages(out.Pages), nil
}

func sanitizePages(pages []string) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = textx.SanitizeText(p)
	}
	return out
}
