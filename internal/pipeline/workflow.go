package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

// executionCreator is the part of the Workflows executions client the launcher uses.
type executionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowLauncher creates pipelines by starting a Cloud Workflows execution
// instead of calling the pipeline service over HTTP.
type WorkflowLauncher struct {
	client executionCreator
	parent string
}

type workflowArgument struct {
	Name    string                 `json:"name"`
	Mapping schema.MappingDocument `json:"mapping"`
}

// NewWorkflowLauncher returns a launcher for the given workflow.
// client is normally an *executions.Client.
func NewWorkflowLauncher(client executionCreator, projectID, location, workflowID string) *WorkflowLauncher {
	return &WorkflowLauncher{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

// CreatePipeline starts one workflow execution with {"name", "mapping"} as its
// argument and returns the execution name.
func (l *WorkflowLauncher) CreatePipeline(ctx context.Context, name string, doc schema.MappingDocument) (string, error) {
	payload, err := json.Marshal(workflowArgument{Name: name, Mapping: doc})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: l.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	execution, err := l.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return execution.GetName(), nil
}
