package workflow

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
)

// Starter launches durable workflows through the Temporal client. Workflow
// ids are deterministic and starts use the USE_EXISTING conflict policy, so a
// duplicate request attaches to the running execution instead of racing it.
type Starter struct {
	Client client.Client
	Cfg    config.Config
}

// NewStarter constructs a Starter.
func NewStarter(c client.Client, cfg config.Config) Starter {
	return Starter{Client: c, Cfg: cfg}
}

var _ domain.WorkflowStarter = Starter{}

// StartDocumentExtraction launches the extraction workflow for a document.
func (s Starter) StartDocumentExtraction(ctx domain.Context, companyID, documentID, jobID int64) error {
	opts := client.StartWorkflowOptions{
		ID:                       DocumentExtractionWorkflowID(documentID),
		TaskQueue:                s.Cfg.DocumentTaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	in := ExtractionInput{CompanyID: companyID, DocumentID: documentID, JobID: jobID}
	if _, err := s.Client.ExecuteWorkflow(ctx, opts, DocumentExtractionWorkflow, in); err != nil {
		return fmt.Errorf("op=starter.document_extraction document=%d: %w", documentID, err)
	}
	return nil
}

// StartAgentQA launches the agent QA workflow, carrying the caller's trace
// context into the workflow input.
func (s Starter) StartAgentQA(ctx domain.Context, in domain.AgentQAInput) error {
	if in.TraceHeaders == nil {
		in.TraceHeaders = map[string]string{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(in.TraceHeaders))
	opts := client.StartWorkflowOptions{
		ID:                       AgentQAWorkflowID(in.JobID, in.CellID),
		TaskQueue:                s.Cfg.AgentQATaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	if _, err := s.Client.ExecuteWorkflow(ctx, opts, AgentQAWorkflow, in); err != nil {
		return fmt.Errorf("op=starter.agent_qa cell=%d: %w", in.CellID, err)
	}
	return nil
}

// StartWorkflowExecution launches the external agent execution workflow.
func (s Starter) StartWorkflowExecution(ctx domain.Context, companyID, workflowID, executionID int64) error {
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowExecutionWorkflowID(executionID),
		TaskQueue:                s.Cfg.ExecutionTaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	in := ExecutionInput{CompanyID: companyID, WorkflowID: workflowID, ExecutionID: executionID}
	if _, err := s.Client.ExecuteWorkflow(ctx, opts, WorkflowExecutionWorkflow, in); err != nil {
		return fmt.Errorf("op=starter.workflow_execution execution=%d: %w", executionID, err)
	}
	return nil
}
