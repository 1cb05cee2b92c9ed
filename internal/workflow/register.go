package workflow

import "go.temporal.io/sdk/worker"

// RegisterDocumentExtraction wires the extraction workflow and its activities
// onto a worker polling the document task queue.
func RegisterDocumentExtraction(w worker.Registry, a *ExtractionActivities) {
	w.RegisterWorkflow(DocumentExtractionWorkflow)
	w.RegisterActivity(a)
}

// RegisterAgentQA wires the agent QA workflow and its activities.
func RegisterAgentQA(w worker.Registry, a *AgentQAActivities) {
	w.RegisterWorkflow(AgentQAWorkflow)
	w.RegisterActivity(a)
}

// RegisterWorkflowExecution wires the execution workflow and its activities.
func RegisterWorkflowExecution(w worker.Registry, a *ExecutionActivities) {
	w.RegisterWorkflow(WorkflowExecutionWorkflow)
	w.RegisterActivity(a)
}
