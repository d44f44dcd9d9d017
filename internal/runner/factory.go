package runner

import (
	"context"
	"fmt"

	"vera/internal/config"
)

// NewFromConfig builds the configured job runner. The local backend executes
// fn on in-process goroutines; the workflows backend hands work off to Cloud
// Workflows executions and ignores fn.
func NewFromConfig(ctx context.Context, cfg config.RunnerConfig, fn Work) (Runner, error) {
	switch cfg.Backend {
	case "workflows":
		return NewWorkflows(ctx, cfg)
	case "", "local":
		return NewLocal(fn), nil
	default:
		return nil, fmt.Errorf("unknown runner backend %q", cfg.Backend)
	}
}
