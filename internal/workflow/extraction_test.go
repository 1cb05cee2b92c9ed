package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestDocumentExtractionWorkflow_CompletesDocument(t *testing.T) {
	t.Parallel()

	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	in := ExtractionInput{CompanyID: 7, DocumentID: 42, JobID: 9}
	target := ExtractionTarget{StorageKey: "documents/company_7/report.pdf", ContentType: "application/pdf", Extractable: true}
	pages := []string{"# Page one", "# Page two"}

	var a *ExtractionActivities
	env.OnActivity(a.LoadTarget, mock.Anything, in).Return(target, nil).Once()
	env.OnActivity(a.MarkProcessing, mock.Anything, in).Return(nil).Once()
	env.OnActivity(a.ExtractPages, mock.Anything, target).Return(pages, nil).Once()
	env.OnActivity(a.StoreExtracted, mock.Anything, in, pages).
		Return("company/7/documents/42/extracted.md", nil).Once()
	env.OnActivity(a.CompleteExtraction, mock.Anything, in, "company/7/documents/42/extracted.md").
		Return(nil).Once()

	env.ExecuteWorkflow(DocumentExtractionWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestDocumentExtractionWorkflow_SkipsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	in := ExtractionInput{CompanyID: 7, DocumentID: 42, JobID: 9}

	var a *ExtractionActivities
	env.OnActivity(a.LoadTarget, mock.Anything, in).
		Return(ExtractionTarget{StorageKey: "documents/company_7/archive.zip", ContentType: "application/zip"}, nil).Once()

	// Only LoadTarget is mocked: any further activity call would fail the run.
	env.ExecuteWorkflow(DocumentExtractionWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestDocumentExtractionWorkflow_FailureRecordsTerminalState(t *testing.T) {
	t.Parallel()

	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	in := ExtractionInput{CompanyID: 7, DocumentID: 42, JobID: 9}
	target := ExtractionTarget{StorageKey: "documents/company_7/report.pdf", ContentType: "application/pdf", Extractable: true}

	var a *ExtractionActivities
	env.OnActivity(a.LoadTarget, mock.Anything, in).Return(target, nil).Once()
	env.OnActivity(a.MarkProcessing, mock.Anything, in).Return(nil).Once()
	env.OnActivity(a.ExtractPages, mock.Anything, target).
		Return(nil, temporal.NewNonRetryableApplicationError("extractor unreachable", "extract", nil)).Once()
	env.OnActivity(a.FailExtraction, mock.Anything, in, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(DocumentExtractionWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestDocumentExtractionWorkflowID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "document-extraction-42", DocumentExtractionWorkflowID(42))
}

func TestIsExtractable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		contentType string
		want        bool
	}{
		{"application/pdf", true},
		{"application/pdf; charset=binary", true},
		{"text/plain", true},
		{"text/markdown", true},
		{"text/csv", true},
		{"application/msword", true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"application/zip", false},
		{"image/png", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isExtractable(tc.contentType), tc.contentType)
	}
}
