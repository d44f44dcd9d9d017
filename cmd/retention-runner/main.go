package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"vera/internal/artifact"
	"vera/internal/config"
	"vera/internal/models"
	"vera/internal/retention"
	"vera/internal/store"
)

var (
	engineInstance *retention.Engine
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("RunRetention", runRetention)
}

func main() {}

func initEngine(ctx context.Context) (*retention.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	artifacts, err := artifact.NewFromConfig(ctx, cfg.Retention.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}
	return retention.New(st, artifacts, cfg.Retention, cfg.Actor), nil
}

// runRetention is the HTTP handler behind the cron-style scheduler trigger.
func runRetention(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		engineInstance, initErr = initEngine(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: retention initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	reclaimed, err := engineInstance.Cleanup(r.Context())
	if err != nil {
		slog.Error("Retention run failed", "error", err)
		http.Error(w, "Internal Server Error: retention run failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.RetentionResponse{Status: "ok", Reclaimed: reclaimed}); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
