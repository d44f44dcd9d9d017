// Package audit is the append-only event journal. Record is always called
// inside the transaction that performs the state mutation it describes, so
// the journal and the lifecycle can never disagree after a crash.
package audit

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vera/internal/lifecycle"
	"vera/internal/models"
)

// Record appends one journal entry. pageID may be empty for document-scoped
// events. detail is serialized as a JSON blob and round-trips on read.
func Record(tx *gorm.DB, documentID, pageID string, event lifecycle.EventType, actor string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	blob, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}
	entry := models.AuditLog{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		PageID:     pageID,
		EventType:  event,
		Actor:      actor,
		Detail:     blob,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry %s: %w", event, err)
	}
	return nil
}

// List returns a document's journal newest-first, optionally narrowed to one
// page.
func List(db *gorm.DB, documentID, pageID string) ([]models.AuditLog, error) {
	q := db.Where("document_id = ?", documentID)
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}
	var entries []models.AuditLog
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries for document %s: %w", documentID, err)
	}
	return entries, nil
}

// CountByEvent returns how many entries of one event type a document has.
func CountByEvent(db *gorm.DB, documentID string, event lifecycle.EventType) (int64, error) {
	var n int64
	err := db.Model(&models.AuditLog{}).
		Where("document_id = ? AND event_type = ?", documentID, event).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
