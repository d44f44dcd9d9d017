package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"vera/internal/config"
	"vera/internal/models"
	"vera/internal/orchestrator"
	"vera/internal/recognize/tesseract"
	"vera/internal/runner"
	"vera/internal/store"
)

var (
	orchInstance *orchestrator.Orchestrator
	once         sync.Once
	initErr      error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessDocument", processDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func initOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	orch := orchestrator.New(st, tesseract.New(cfg.OCR.Languages), cfg)
	r, err := runner.NewWorkflows(ctx, cfg.Runner)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflows runner: %w", err)
	}
	orch.UseRunner(r)
	return orch, nil
}

// processDocument is the Cloud Function entry point. The workflow delivers
// a work descriptor per document; redelivery is harmless because Execute
// no-ops on documents that are no longer processing.
func processDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		orchInstance, initErr = initOrchestrator(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var work models.WorkDescriptor
	if err := json.Unmarshal(e.Data(), &work); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return orchInstance.Execute(ctx, work.DocumentID)
}
