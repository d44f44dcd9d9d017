// Package store owns access to the relational store, the single source of
// truth for the document lifecycle. All multi-row mutations run inside one
// transaction, and every row update goes through the optimistic version
// guard: a concurrent writer loses with a conflict fault and must re-read.
package store

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vera/internal/config"
	"vera/internal/fault"
	"vera/internal/models"
)

type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DBConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Tx runs fn inside one transaction. State transitions and their audit
// entries always share a transaction so a crash can never separate them.
func (s *Store) Tx(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// GetDocument loads a document or returns a not_found fault.
func GetDocument(tx *gorm.DB, documentID string) (*models.Document, error) {
	var doc models.Document
	if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "document %s not found", documentID)
		}
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	return &doc, nil
}

// GetPage loads a page belonging to the given document.
func GetPage(tx *gorm.DB, documentID, pageID string) (*models.DocumentPage, error) {
	var page models.DocumentPage
	err := tx.First(&page, "id = ? AND document_id = ?", pageID, documentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "page %s not found on document %s", pageID, documentID)
		}
		return nil, fmt.Errorf("failed to load page %s: %w", pageID, err)
	}
	return &page, nil
}

// PagesByDocument returns a document's pages in page_index order.
func PagesByDocument(tx *gorm.DB, documentID string) ([]models.DocumentPage, error) {
	var pages []models.DocumentPage
	err := tx.Where("document_id = ?", documentID).
		Order("page_index ASC").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pages for document %s: %w", documentID, err)
	}
	return pages, nil
}

// TokensByPage returns a page's tokens in line-major order.
func TokensByPage(tx *gorm.DB, documentID, pageID string) ([]models.Token, error) {
	var tokens []models.Token
	err := tx.Where("document_id = ? AND page_id = ?", documentID, pageID).
		Order("line_index ASC, token_index ASC").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens for page %s: %w", pageID, err)
	}
	return tokens, nil
}

// TokensByDocument returns every token of a document, page-major then
// line-major. Used for the whole-document (single-page) review path.
func TokensByDocument(tx *gorm.DB, documentID string) ([]models.Token, error) {
	var tokens []models.Token
	err := tx.Where("document_id = ?", documentID).
		Order("page_id ASC, line_index ASC, token_index ASC").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens for document %s: %w", documentID, err)
	}
	return tokens, nil
}

// LatestCorrections maps token id to its most recent correction for the
// given document (optionally narrowed to one page). Rows are scanned in
// confirmed_at order so the newest write wins per token.
func LatestCorrections(tx *gorm.DB, documentID, pageID string) (map[string]models.Correction, error) {
	q := tx.Where("document_id = ?", documentID)
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}
	var rows []models.Correction
	if err := q.Order("confirmed_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load corrections for document %s: %w", documentID, err)
	}
	latest := make(map[string]models.Correction, len(rows))
	for _, c := range rows {
		latest[c.TokenID] = c
	}
	return latest, nil
}

// UpdateDocument applies updates to the document row guarded by its version.
// On success the in-memory version is advanced to match the row.
func UpdateDocument(tx *gorm.DB, doc *models.Document, updates map[string]any) error {
	updates["version"] = doc.Version + 1
	res := tx.Model(&models.Document{}).
		Where("id = ? AND version = ?", doc.ID, doc.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fault.New(fault.Conflict, "document %s version %d is stale", doc.ID, doc.Version)
	}
	doc.Version++
	return nil
}

// UpdatePage applies updates to the page row guarded by its version.
func UpdatePage(tx *gorm.DB, page *models.DocumentPage, updates map[string]any) error {
	updates["version"] = page.Version + 1
	res := tx.Model(&models.DocumentPage{}).
		Where("id = ? AND version = ?", page.ID, page.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update page %s: %w", page.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fault.New(fault.Conflict, "page %s version %d is stale", page.ID, page.Version)
	}
	page.Version++
	return nil
}
