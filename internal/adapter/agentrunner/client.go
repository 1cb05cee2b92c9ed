// Package agentrunner is an HTTP client for the agent execution service,
// which provisions sandboxed agents for workflow runs. The execution workflow
// launches an agent, polls it to completion, and tears it down.
package agentrunner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/latticehq/lattice/internal/domain"
)

// Client talks to the agent runner service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type launchRequest struct {
	CompanyID   int64 `json:"company_id"`
	WorkflowID  int64 `json:"workflow_id"`
	ExecutionID int64 `json:"execution_id"`
}

type launchResponse struct {
	AgentID        string `json:"agent_id"`
	ServiceAccount string `json:"service_account"`
}

// Launch provisions an agent for one workflow execution and returns its id
// and the service account it runs under.
func (c *Client) Launch(ctx domain.Context, companyID, workflowID, executionID int64) (string, string, error) {
	b, _ := json.Marshal(launchRequest{CompanyID: companyID, WorkflowID: workflowID, ExecutionID: executionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agents", bytes.NewReader(b))
	if err != nil {
		return "", "", fmt.Errorf("op=agentrunner.launch: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("op=agentrunner.launch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("op=agentrunner.launch: status %d", resp.StatusCode)
	}
	var out launchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("op=agentrunner.launch: %w", err)
	}
	if out.AgentID == "" {
		return "", "", fmt.Errorf("op=agentrunner.launch: empty agent id")
	}
	return out.AgentID, out.ServiceAccount, nil
}

// Status reports whether the agent finished and, once done, whether it
// succeeded.
func (c *Client) Status(ctx domain.Context, agentID string) (bool, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agents/"+agentID, nil)
	if err != nil {
		return false, false, fmt.Errorf("op=agentrunner.status: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("op=agentrunner.status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, false, fmt.Errorf("op=agentrunner.status: %w", domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, fmt.Errorf("op=agentrunner.status: status %d", resp.StatusCode)
	}
	var out struct {
		Done    bool `json:"done"`
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, false, fmt.Errorf("op=agentrunner.status: %w", err)
	}
	return out.Done, out.Success, nil
}

// Cleanup tears down the agent and revokes its service account. Idempotent:
// a missing agent is success.
func (c *Client) Cleanup(ctx domain.Context, agentID, serviceAccount string) error {
	b, _ := json.Marshal(map[string]string{"service_account": serviceAccount})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/agents/"+agentID, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("op=agentrunner.cleanup: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=agentrunner.cleanup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=agentrunner.cleanup: status %d", resp.StatusCode)
	}
	return nil
}
