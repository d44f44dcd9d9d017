// Package retention reclaims documents that have aged out of the active
// lifecycle: artifacts are deleted or archived, then every dependent row is
// purged in dependency order. Documents under active orchestration are never
// selected, and eligibility is re-checked inside the deleting transaction.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"vera/internal/artifact"
	"vera/internal/audit"
	"vera/internal/config"
	"vera/internal/lifecycle"
	"vera/internal/models"
	"vera/internal/store"
)

// Engine applies the retention policy on each run.
type Engine struct {
	store     *store.Store
	artifacts artifact.Store
	cfg       config.RetentionConfig
	actor     string
}

func New(st *store.Store, artifacts artifact.Store, cfg config.RetentionConfig, actor string) *Engine {
	return &Engine{store: st, artifacts: artifacts, cfg: cfg, actor: actor}
}

// Cleanup performs one retention pass and returns the number of documents
// reclaimed. Zero is a normal outcome. A document whose artifact reclamation
// fails is skipped for this run and retried on the next; the rest of the
// batch proceeds.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	if e.cfg.Days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(e.cfg.Days) * 24 * time.Hour)

	candidates, err := e.selectDocuments(cutoff)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	slog.Info("Retention pass selected documents.", "count", len(candidates),
		"trigger", e.cfg.Trigger, "mode", e.cfg.Mode)

	// Reclaim artifacts with bounded parallelism across documents; each
	// document's files are handled by exactly one goroutine.
	reclaimed := make([]bool, len(candidates))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i := range candidates {
		eg.Go(func() error {
			if err := e.reclaimFiles(gctx, &candidates[i]); err != nil {
				slog.Error("Failed to reclaim artifacts; document skipped this run.",
					"documentId", candidates[i].ID, "error", err)
				return nil
			}
			reclaimed[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	var ids []string
	for i, ok := range reclaimed {
		if ok {
			ids = append(ids, candidates[i].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return e.purgeRows(ids)
}

// selectDocuments returns documents past the configured trigger, excluding
// anything still uploaded or processing.
func (e *Engine) selectDocuments(cutoff time.Time) ([]models.Document, error) {
	db := e.store.DB()
	q := db.Model(&models.Document{}).
		Where("status NOT IN ?", []lifecycle.Status{lifecycle.StatusUploaded, lifecycle.StatusProcessing})

	if e.cfg.Trigger == "post_review" {
		q = q.Where("review_complete_at IS NOT NULL AND review_complete_at <= ?", cutoff)
	} else {
		exported := db.Model(&models.AuditLog{}).
			Select("document_id, MAX(created_at) AS exported_at").
			Where("event_type = ?", lifecycle.EventExported).
			Group("document_id")
		q = q.Joins("JOIN (?) AS exp ON documents.id = exp.document_id", exported).
			Where("exp.exported_at <= ?", cutoff)
	}

	var docs []models.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to select retention candidates: %w", err)
	}
	return docs, nil
}

// reclaimFiles deletes or archives the document's image and every page
// image, per the configured mode.
func (e *Engine) reclaimFiles(ctx context.Context, doc *models.Document) error {
	paths := []string{}
	if doc.ImagePath != "" {
		paths = append(paths, doc.ImagePath)
	}
	pages, err := store.PagesByDocument(e.store.DB(), doc.ID)
	if err != nil {
		return err
	}
	for _, page := range pages {
		if page.ImagePath != "" && page.ImagePath != doc.ImagePath {
			paths = append(paths, page.ImagePath)
		}
	}
	for _, path := range paths {
		if e.cfg.Mode == "archive" {
			err = e.artifacts.Archive(ctx, path, doc.ID)
		} else {
			err = e.artifacts.Remove(ctx, path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// purgeRows deletes every dependent row for the given documents inside one
// transaction: tokens, corrections, audit entries, pages, then documents.
// Eligibility is re-checked inside the transaction so a document that moved
// back under orchestration since selection is left alone; the window between
// artifact reclamation and this check remains a known narrow race.
func (e *Engine) purgeRows(ids []string) (int, error) {
	event := lifecycle.EventRetentionDeleted
	if e.cfg.Mode == "archive" {
		event = lifecycle.EventRetentionArchived
	}

	var count int
	err := e.store.Tx(func(tx *gorm.DB) error {
		var confirmed []string
		err := tx.Model(&models.Document{}).
			Where("id IN ?", ids).
			Where("status NOT IN ?", []lifecycle.Status{lifecycle.StatusUploaded, lifecycle.StatusProcessing}).
			Pluck("id", &confirmed).Error
		if err != nil {
			return fmt.Errorf("failed to re-check retention candidates: %w", err)
		}
		if len(confirmed) == 0 {
			return nil
		}

		// The reclamation event is journaled inside the same transaction;
		// it is purged along with the rest of the document's journal below.
		for _, id := range confirmed {
			if err := audit.Record(tx, id, "", event, e.actor, map[string]any{"mode": e.cfg.Mode}); err != nil {
				return err
			}
		}

		for _, model := range []any{&models.Token{}, &models.Correction{}, &models.AuditLog{}, &models.DocumentPage{}} {
			if err := tx.Where("document_id IN ?", confirmed).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to purge dependent rows: %w", err)
			}
		}
		res := tx.Where("id IN ?", confirmed).Delete(&models.Document{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge documents: %w", res.Error)
		}
		count = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("Retention pass complete.", "reclaimed", count)
	return count, nil
}
