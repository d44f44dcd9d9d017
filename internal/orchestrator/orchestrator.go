// Package orchestrator drives the asynchronous recognition pass: it
// dispatches one unit of background work per document, walks the pages in
// page_index order, aggregates per-page outcomes into the document status,
// and converges cancellation. The relational store is the synchronization
// point throughout; redelivered work detects completed state and no-ops.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vera/internal/audit"
	"vera/internal/config"
	"vera/internal/fault"
	"vera/internal/lifecycle"
	"vera/internal/models"
	"vera/internal/recognize"
	"vera/internal/runner"
	"vera/internal/store"
)

// Orchestrator coordinates per-page recognition for documents.
type Orchestrator struct {
	store  *store.Store
	engine recognize.Engine
	runner runner.Runner
	cfg    *config.Config
}

// New builds an orchestrator. The runner is attached separately because the
// local runner needs the orchestrator's Execute as its work function.
func New(st *store.Store, engine recognize.Engine, cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: st, engine: engine, cfg: cfg}
}

// UseRunner attaches the background job runner.
func (o *Orchestrator) UseRunner(r runner.Runner) { o.runner = r }

// Dispatch transitions the document and all its pages to processing, hands
// the work to the job runner, and records the job handle. The call returns
// once the work is enqueued, not when it completes.
func (o *Orchestrator) Dispatch(ctx context.Context, documentID string) (string, error) {
	logCtx := slog.With("documentId", documentID)

	if err := o.engine.Available(ctx); err != nil {
		logCtx.Warn("Recognition engine unavailable.", "error", err)
		return "", err
	}

	var doc *models.Document
	err := o.store.Tx(func(tx *gorm.DB) error {
		var err error
		doc, err = store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(doc.Status, lifecycle.StatusProcessing); err != nil {
			return err
		}
		if err := store.UpdateDocument(tx, doc, map[string]any{"status": lifecycle.StatusProcessing}); err != nil {
			return err
		}
		doc.Status = lifecycle.StatusProcessing

		pages, err := store.PagesByDocument(tx, documentID)
		if err != nil {
			return err
		}
		for i := range pages {
			page := &pages[i]
			if err := lifecycle.Check(page.Status, lifecycle.StatusProcessing); err != nil {
				return err
			}
			if err := store.UpdatePage(tx, page, map[string]any{"status": lifecycle.StatusProcessing}); err != nil {
				return err
			}
		}
		return audit.Record(tx, documentID, "", lifecycle.EventOCRStarted, o.cfg.Actor,
			map[string]any{"page_count": len(pages), "engine": o.engine.Name()})
	})
	if err != nil {
		return "", err
	}

	handle, err := o.runner.Enqueue(ctx, models.WorkDescriptor{DocumentID: documentID})
	if err != nil {
		logCtx.Error("Failed to enqueue background work.", "error", err)
		o.converge(documentID, lifecycle.StatusFailed, lifecycle.EventOCRFailed,
			map[string]any{"error": err.Error()})
		return "", err
	}

	err = o.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != lifecycle.StatusProcessing {
			// The work already ran to completion (or converged) before this
			// write; a finished document carries no task handle.
			logCtx.Info("Work finished before the handle write; leaving task id clear.", "status", doc.Status)
			return nil
		}
		return store.UpdateDocument(tx, doc, map[string]any{"processing_task_id": handle})
	})
	if err != nil {
		return "", err
	}
	logCtx.Info("Dispatched recognition work.", "taskId", handle)
	return handle, nil
}

// ExecuteWork adapts Execute to the local runner's work signature.
func (o *Orchestrator) ExecuteWork(ctx context.Context, work models.WorkDescriptor) {
	if err := o.Execute(ctx, work.DocumentID); err != nil {
		slog.Error("Recognition run failed.", "documentId", work.DocumentID, "error", err)
	}
}

// Execute runs the per-page recognition pass for one document. Pages are
// processed sequentially in page_index order: page N never starts before
// page N-1's output is committed, which bounds peak memory and gives the
// audit trail a deterministic order. Redelivered invocations find the
// document no longer processing and become no-ops.
func (o *Orchestrator) Execute(ctx context.Context, documentID string) error {
	logCtx := slog.With("documentId", documentID)

	doc, err := store.GetDocument(o.store.DB(), documentID)
	if err != nil {
		return err
	}
	if doc.Status != lifecycle.StatusProcessing {
		logCtx.Info("Document is not processing; skipping duplicate delivery.", "status", doc.Status)
		return nil
	}

	pages, err := store.PagesByDocument(o.store.DB(), documentID)
	if err != nil {
		return err
	}

	for i := range pages {
		page := &pages[i]
		if page.Status != lifecycle.StatusProcessing {
			continue
		}
		if err := ctx.Err(); err != nil {
			// Cancel converges row state; the worker only stops.
			logCtx.Info("Recognition canceled mid-flight.", "pageIndex", page.PageIndex)
			return nil
		}

		result, err := o.engine.RecognizePage(ctx, page.ImagePath)
		if err != nil {
			return o.handlePageFailure(logCtx, page, err)
		}
		switch result.Status {
		case recognize.PageCanceled:
			logCtx.Info("Recognition reported cancellation.", "pageIndex", page.PageIndex)
			return nil
		case recognize.PageError:
			return o.handlePageFailure(logCtx, page, fmt.Errorf("recognition failed: %s", result.Detail))
		}

		if err := o.commitPage(page, result.Words); err != nil {
			if fault.IsKind(err, fault.Conflict) {
				// A concurrent cancel won the row; stop dispatching.
				logCtx.Info("Page row changed underneath the worker; stopping.", "pageIndex", page.PageIndex)
				return nil
			}
			return o.handlePageFailure(logCtx, page, err)
		}
		logCtx.Info("Page recognition committed.", "pageIndex", page.PageIndex, "tokens", len(result.Words))
	}

	err = o.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != lifecycle.StatusProcessing {
			return nil
		}
		if err := lifecycle.Check(doc.Status, lifecycle.StatusOCRDone); err != nil {
			return err
		}
		updates := map[string]any{
			"status":             lifecycle.StatusOCRDone,
			"processing_task_id": "",
		}
		if err := store.UpdateDocument(tx, doc, updates); err != nil {
			return err
		}
		return audit.Record(tx, documentID, "", lifecycle.EventOCRDone, o.cfg.Actor, nil)
	})
	if err != nil {
		return err
	}
	logCtx.Info("Recognition run complete.")
	return nil
}

// commitPage persists one page's tokens and its ocr_done transition in a
// single transaction.
func (o *Orchestrator) commitPage(page *models.DocumentPage, words []recognize.Word) error {
	return o.store.Tx(func(tx *gorm.DB) error {
		tokens := make([]models.Token, 0, len(words))
		for _, w := range words {
			bbox, err := json.Marshal(w.BBox)
			if err != nil {
				return fmt.Errorf("failed to marshal bbox: %w", err)
			}
			flags := w.Flags
			if flags == nil {
				flags = []string{}
			}
			flagsBlob, err := json.Marshal(flags)
			if err != nil {
				return fmt.Errorf("failed to marshal flags: %w", err)
			}
			tokens = append(tokens, models.Token{
				ID:              uuid.NewString(),
				DocumentID:      page.DocumentID,
				PageID:          page.ID,
				LineID:          w.LineID,
				LineIndex:       w.LineIndex,
				TokenIndex:      w.TokenIndex,
				Text:            w.Text,
				Confidence:      w.Confidence,
				ConfidenceLabel: recognize.ConfidenceLabel(o.cfg.OCR, w.Confidence),
				ForcedReview:    recognize.ForcedReview(o.cfg.OCR, w.Confidence),
				BBox:            bbox,
				Flags:           flagsBlob,
			})
		}
		if len(tokens) > 0 {
			if err := tx.Create(&tokens).Error; err != nil {
				return fmt.Errorf("failed to persist tokens for page %s: %w", page.ID, err)
			}
		}
		if err := lifecycle.Check(page.Status, lifecycle.StatusOCRDone); err != nil {
			return err
		}
		if err := store.UpdatePage(tx, page, map[string]any{"status": lifecycle.StatusOCRDone}); err != nil {
			return err
		}
		page.Status = lifecycle.StatusOCRDone
		return audit.Record(tx, page.DocumentID, page.ID, lifecycle.EventOCRDone, o.cfg.Actor,
			map[string]any{"page_index": page.PageIndex, "token_count": len(tokens)})
	})
}

// handlePageFailure converges the page and document to failed with one
// ocr_failed audit entry, then returns the original error. Remaining pages
// are never dispatched after a failure.
func (o *Orchestrator) handlePageFailure(logCtx *slog.Logger, page *models.DocumentPage, cause error) error {
	logCtx.Error("Page recognition failed.", "pageIndex", page.PageIndex, "error", cause)
	o.converge(page.DocumentID, lifecycle.StatusFailed, lifecycle.EventOCRFailed,
		map[string]any{"page_index": page.PageIndex, "error": cause.Error()})
	return cause
}

// converge force-transitions the document and its non-terminal pages into a
// terminal state with a single audit entry. Used for failure and enqueue
// breakdowns; Cancel has its own path with stricter preconditions.
func (o *Orchestrator) converge(documentID string, status lifecycle.Status, event lifecycle.EventType, detail map[string]any) {
	err := o.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if lifecycle.Terminal(doc.Status) {
			return nil
		}
		updates := map[string]any{"status": status, "processing_task_id": ""}
		if err := store.UpdateDocument(tx, doc, updates); err != nil {
			return err
		}
		pages, err := store.PagesByDocument(tx, documentID)
		if err != nil {
			return err
		}
		for i := range pages {
			page := &pages[i]
			if lifecycle.Terminal(page.Status) || lifecycle.AtLeastOCRDone(page.Status) {
				continue
			}
			if err := store.UpdatePage(tx, page, map[string]any{"status": status}); err != nil {
				return err
			}
		}
		return audit.Record(tx, documentID, "", event, o.cfg.Actor, detail)
	})
	if err != nil {
		slog.Error("CRITICAL: Failed to converge terminal status after a processing error.",
			"documentId", documentID, "status", status, "error", err)
	}
}

// Cancel terminates in-flight recognition for a document: it signals the job
// runner, converges the document and still-processing pages to canceled,
// clears the job handle, and writes one ocr_canceled audit entry. Valid only
// while the document is uploaded or processing and a job handle exists.
func (o *Orchestrator) Cancel(ctx context.Context, documentID string) error {
	logCtx := slog.With("documentId", documentID)

	doc, err := store.GetDocument(o.store.DB(), documentID)
	if err != nil {
		return err
	}
	if !lifecycle.Cancelable(doc.Status) {
		return fault.New(fault.NotCancelable, "document %s is %s, not cancelable", documentID, doc.Status)
	}
	taskID := doc.ProcessingTaskID
	if taskID == "" {
		return fault.New(fault.NoActiveTask, "document %s has no active task", documentID)
	}

	// Cooperative: the runner may ignore the signal, the row transition below
	// is authoritative either way.
	if err := o.runner.Cancel(ctx, taskID); err != nil {
		logCtx.Warn("Job runner did not acknowledge cancellation.", "taskId", taskID, "error", err)
	}

	err = o.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if !lifecycle.Cancelable(doc.Status) {
			return fault.New(fault.NotCancelable, "document %s is %s, not cancelable", documentID, doc.Status)
		}
		updates := map[string]any{
			"status":             lifecycle.StatusCanceled,
			"processing_task_id": "",
		}
		if err := store.UpdateDocument(tx, doc, updates); err != nil {
			return err
		}
		pages, err := store.PagesByDocument(tx, documentID)
		if err != nil {
			return err
		}
		for i := range pages {
			page := &pages[i]
			if !lifecycle.Cancelable(page.Status) {
				continue
			}
			if err := store.UpdatePage(tx, page, map[string]any{"status": lifecycle.StatusCanceled}); err != nil {
				return err
			}
		}
		return audit.Record(tx, documentID, "", lifecycle.EventOCRCanceled, o.cfg.Actor,
			map[string]any{"task_id": taskID})
	})
	if err != nil {
		return err
	}
	logCtx.Info("Cancellation converged.", "taskId", taskID)
	return nil
}
