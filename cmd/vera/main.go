// vera is the local single-node entry point. Each subcommand drives one
// lifecycle operation against the shared store: process ingests a file and
// runs the recognition pass, cancel terminates in-flight recognition,
// summarize and export consume validated content, retention runs one
// reclamation pass.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vera/internal/artifact"
	"vera/internal/config"
	"vera/internal/export"
	"vera/internal/ingest"
	"vera/internal/orchestrator"
	"vera/internal/recognize/tesseract"
	"vera/internal/retention"
	"vera/internal/runner"
	"vera/internal/store"
	"vera/internal/summary"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [args]

  process   <file.pdf|file.png|file.jpg>   ingest and run recognition
  cancel    <document-id>                  cancel in-flight recognition
  summarize <document-id>                  summarize validated text
  export    <document-id> [json|txt|csv]   export validated content
  retention                                run one retention pass
`, filepath.Base(os.Args[0]))
	os.Exit(2)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		slog.Error("Run failed.", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	switch command {
	case "process":
		if len(args) != 1 {
			usage()
		}
		return runProcess(ctx, st, cfg, args[0])
	case "cancel":
		if len(args) != 1 {
			usage()
		}
		return runCancel(ctx, st, cfg, args[0])
	case "summarize":
		if len(args) != 1 {
			usage()
		}
		return runSummarize(ctx, st, cfg, args[0])
	case "export":
		if len(args) < 1 || len(args) > 2 {
			usage()
		}
		format := "json"
		if len(args) == 2 {
			format = args[1]
		}
		return runExport(ctx, st, cfg, args[0], format)
	case "retention":
		if len(args) != 0 {
			usage()
		}
		return runRetention(ctx, st, cfg)
	default:
		usage()
		return nil
	}
}

func newOrchestrator(ctx context.Context, st *store.Store, cfg *config.Config) (*orchestrator.Orchestrator, runner.Runner, error) {
	orch := orchestrator.New(st, tesseract.New(cfg.OCR.Languages), cfg)
	r, err := runner.NewFromConfig(ctx, cfg.Runner, orch.ExecuteWork)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job runner: %w", err)
	}
	orch.UseRunner(r)
	return orch, r, nil
}

func runProcess(ctx context.Context, st *store.Store, cfg *config.Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, pages, err := ingest.New(st, cfg).Ingest(ctx, raw, filepath.Base(path))
	if err != nil {
		return err
	}
	slog.Info("Document ingested.", "documentId", doc.ID, "pages", len(pages))

	orch, r, err := newOrchestrator(ctx, st, cfg)
	if err != nil {
		return err
	}
	if _, err := orch.Dispatch(ctx, doc.ID); err != nil {
		return err
	}
	if local, ok := r.(*runner.Local); ok {
		local.Wait()
	}

	final, err := store.GetDocument(st.DB(), doc.ID)
	if err != nil {
		return err
	}
	slog.Info("Recognition finished.", "documentId", final.ID, "status", final.Status)
	fmt.Printf("%s\t%s\n", final.ID, final.Status)
	return nil
}

func runCancel(ctx context.Context, st *store.Store, cfg *config.Config, documentID string) error {
	orch, _, err := newOrchestrator(ctx, st, cfg)
	if err != nil {
		return err
	}
	if err := orch.Cancel(ctx, documentID); err != nil {
		return err
	}
	fmt.Printf("%s\tcanceled\n", documentID)
	return nil
}

func runSummarize(ctx context.Context, st *store.Store, cfg *config.Config, documentID string) error {
	backend, err := summary.NewFromConfig(ctx, cfg.Summary)
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}
	text, err := summary.New(st, backend, cfg.Actor).Document(ctx, documentID)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runExport(ctx context.Context, st *store.Store, cfg *config.Config, documentID, format string) error {
	res, err := export.New(st, cfg.Actor).Document(ctx, documentID, format)
	if err != nil {
		return err
	}
	fmt.Println(res.Body)
	return nil
}

func runRetention(ctx context.Context, st *store.Store, cfg *config.Config) error {
	artifacts, err := artifact.NewFromConfig(ctx, cfg.Retention.ArchiveDir)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	reclaimed, err := retention.New(st, artifacts, cfg.Retention, cfg.Actor).Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed\t%d\n", reclaimed)
	return nil
}
