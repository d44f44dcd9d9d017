package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Fatalf("db driver = %q, want sqlite", cfg.DB.Driver)
	}
	if cfg.Retention.Days != 30 || cfg.Retention.Trigger != "post_export" || cfg.Retention.Mode != "delete" {
		t.Fatalf("retention defaults = %+v", cfg.Retention)
	}
	if cfg.OCR.ForcedReviewThreshold != 0.60 {
		t.Fatalf("forced review threshold = %v", cfg.OCR.ForcedReviewThreshold)
	}
	if cfg.Runner.Backend != "local" {
		t.Fatalf("runner backend = %q, want local", cfg.Runner.Backend)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VERA_RETENTION_DAYS", "7")
	t.Setenv("VERA_RETENTION_MODE", "archive")
	t.Setenv("VERA_DB_DRIVER", "mysql")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retention.Days != 7 {
		t.Fatalf("retention days = %d, want env override 7", cfg.Retention.Days)
	}
	if cfg.Retention.Mode != "archive" {
		t.Fatalf("retention mode = %q, want archive", cfg.Retention.Mode)
	}
	if cfg.DB.Driver != "mysql" {
		t.Fatalf("db driver = %q, want mysql", cfg.DB.Driver)
	}
}
