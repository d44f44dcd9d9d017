package summary

import (
	"context"
	"fmt"

	"vera/internal/config"
)

// NewFromConfig builds the configured summarization backend.
func NewFromConfig(ctx context.Context, cfg config.SummaryConfig) (Summarizer, error) {
	switch cfg.Backend {
	case "vertex":
		return NewVertex(ctx, cfg.ProjectID, cfg.VertexAIRegion)
	case "", "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown summary backend %q", cfg.Backend)
	}
}
