package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"vera/internal/config"
	"vera/internal/models"
)

// Workflows hands work off to a Cloud Workflows execution. The workflow
// calls back into the ocr-worker function with the same descriptor, which
// keeps per-page outcomes independently attributable on redelivery.
type Workflows struct {
	client *executions.Client
	parent string
}

// NewWorkflows builds a Workflows runner for the configured workflow.
func NewWorkflows(ctx context.Context, cfg config.RunnerConfig) (*Workflows, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("runner.project_id must be set for the workflows backend")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &Workflows{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s",
			cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID),
	}, nil
}

// Enqueue creates a workflow execution carrying the work descriptor and
// returns the execution's resource name as the job handle.
func (w *Workflows) Enqueue(ctx context.Context, work models.WorkDescriptor) (string, error) {
	payload, err := json.Marshal(work)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := w.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return "", ErrRunnerUnavailable(err)
	}
	slog.Info("Triggered workflow execution.", "execution", exec.GetName(), "documentId", work.DocumentID)
	return exec.GetName(), nil
}

// Cancel requests termination of the execution. The workflow may already
// have finished; the caller converges row state regardless.
func (w *Workflows) Cancel(ctx context.Context, handle string) error {
	_, err := w.client.CancelExecution(ctx, &executionspb.CancelExecutionRequest{Name: handle})
	if err != nil {
		return ErrRunnerUnavailable(err)
	}
	return nil
}

func (w *Workflows) Close() error { return w.client.Close() }

var _ Runner = (*Workflows)(nil)
