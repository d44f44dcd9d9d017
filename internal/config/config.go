// Package config loads runtime configuration via viper. Values come from an
// optional vera.yaml next to the binary, overridden by environment variables,
// with defaults suiting a local single-node deployment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
	Actor       string `mapstructure:"actor"`

	DB        DBConfig        `mapstructure:"db"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Retention RetentionConfig `mapstructure:"retention"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Runner    RunnerConfig    `mapstructure:"runner"`
}

// DBConfig selects the relational store. Driver is "sqlite" or "mysql".
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// OCRConfig tunes the recognition pass and confidence bucketing.
type OCRConfig struct {
	Languages []string `mapstructure:"languages"`
	// ForcedReviewThreshold marks tokens below it as requiring explicit
	// reviewer confirmation before review can complete.
	ForcedReviewThreshold float64 `mapstructure:"forced_review_threshold"`
	LowConfidence         float64 `mapstructure:"low_confidence"`
	HighConfidence        float64 `mapstructure:"high_confidence"`
}

// RetentionConfig controls the reclamation policy. Days <= 0 disables the
// engine. Trigger is "post_export" or "post_review"; Mode is "delete" or
// "archive".
type RetentionConfig struct {
	Days       int    `mapstructure:"days"`
	Trigger    string `mapstructure:"trigger"`
	Mode       string `mapstructure:"mode"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

// SummaryConfig configures the summarization collaborator.
type SummaryConfig struct {
	Backend        string `mapstructure:"backend"` // "ollama" or "vertex"
	OllamaURL      string `mapstructure:"ollama_url"`
	OllamaModel    string `mapstructure:"ollama_model"`
	ProjectID      string `mapstructure:"project_id"`
	VertexAIRegion string `mapstructure:"vertex_ai_region"`
}

// RunnerConfig configures the background job runner. Backend "local" runs
// work in-process; "workflows" hands off to Cloud Workflows executions.
type RunnerConfig struct {
	Backend          string `mapstructure:"backend"`
	ProjectID        string `mapstructure:"project_id"`
	WorkflowLocation string `mapstructure:"workflow_location"`
	WorkflowID       string `mapstructure:"workflow_id"`
}

// Load reads the configuration. Missing config file is fine; env vars such as
// VERA_RETENTION_DAYS override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("vera")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vera")

	v.SetEnvPrefix("vera")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("max_upload_mb", 25)
	v.SetDefault("actor", "local_user")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "./data/vera.db")

	v.SetDefault("ocr.languages", []string{"eng"})
	v.SetDefault("ocr.forced_review_threshold", 0.60)
	v.SetDefault("ocr.low_confidence", 0.60)
	v.SetDefault("ocr.high_confidence", 0.85)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.trigger", "post_export")
	v.SetDefault("retention.mode", "delete")
	v.SetDefault("retention.archive_dir", "./archive")

	v.SetDefault("summary.backend", "ollama")
	v.SetDefault("summary.ollama_url", "http://localhost:11434")
	v.SetDefault("summary.ollama_model", "llama3.1")
	v.SetDefault("summary.vertex_ai_region", "us-central1")

	v.SetDefault("runner.backend", "local")
	v.SetDefault("runner.workflow_location", "us-central1")
	v.SetDefault("runner.workflow_id", "document-processing-orchestrator")
}
