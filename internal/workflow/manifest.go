package workflow

import "fmt"

// Manifest is the agent-produced result descriptor written next to the
// execution outputs. The agent writes it last, so its presence marks a
// finished run.
type Manifest struct {
	ExecutionID  string           `json:"execution_id"`
	OutputFiles  []ManifestFile   `json:"output_files"`
	ScratchFiles []ManifestFile   `json:"scratch_files"`
	Metadata     ManifestMetadata `json:"metadata"`
}

// ManifestFile describes one file the agent produced.
type ManifestFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
}

// ManifestMetadata is the agent's own verdict on the run.
type ManifestMetadata struct {
	Success    bool     `json:"success"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ExecutionOutputPrefix is the object-storage prefix holding an execution's
// output files.
func ExecutionOutputPrefix(companyID, workflowID, executionID int64) string {
	return fmt.Sprintf("companies/%d/workflows/%d/executions/%d/outputs/", companyID, workflowID, executionID)
}

// ExecutionManifestKey locates the manifest, a sibling of the outputs prefix.
func ExecutionManifestKey(companyID, workflowID, executionID int64) string {
	return fmt.Sprintf("companies/%d/workflows/%d/executions/%d/.manifest.json", companyID, workflowID, executionID)
}
