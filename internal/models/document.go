package models

import (
	"time"

	"gorm.io/datatypes"

	"vera/internal/lifecycle"
)

// Document is the master record for one uploaded work item. The relational
// store is the single source of truth; no component caches document state
// across calls. Version is an optimistic-concurrency guard bumped on every
// mutation.
type Document struct {
	ID               string           `gorm:"primaryKey"`
	ImagePath        string           `gorm:"not null"`
	ImageWidth       int              `gorm:"not null"`
	ImageHeight      int              `gorm:"not null"`
	Status           lifecycle.Status `gorm:"not null;index"`
	ProcessingTaskID string
	ValidatedText    string
	StructuredFields datatypes.JSON `gorm:"not null;default:'{}'"`
	PageCount        int            `gorm:"not null;default:1"`
	ReviewCompleteAt *time.Time
	Version          int64 `gorm:"not null;default:1"`
	DocType          string
	Locale           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentPage is one image-bearing unit of a document. PageIndex values for
// a document form a contiguous 0..N-1 range.
type DocumentPage struct {
	ID               string           `gorm:"primaryKey"`
	DocumentID       string           `gorm:"not null;index"`
	PageIndex        int              `gorm:"not null"`
	ImagePath        string           `gorm:"not null"`
	ImageWidth       int              `gorm:"not null"`
	ImageHeight      int              `gorm:"not null"`
	Status           lifecycle.Status `gorm:"not null"`
	ValidatedText    string
	StructuredFields datatypes.JSON `gorm:"not null;default:'{}'"`
	ReviewCompleteAt *time.Time
	Version          int64 `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Token is the smallest recognized text unit on a page. (LineIndex,
// TokenIndex) gives a stable line-major order within the page. The original
// recognized text is never mutated; corrections layer on top.
type Token struct {
	ID              string  `gorm:"primaryKey"`
	DocumentID      string  `gorm:"not null;index"`
	PageID          string  `gorm:"not null;index"`
	LineID          string  `gorm:"not null"`
	LineIndex       int     `gorm:"not null"`
	TokenIndex      int     `gorm:"not null"`
	Text            string  `gorm:"not null"`
	Confidence      float64 `gorm:"not null"`
	ConfidenceLabel string  `gorm:"not null"`
	ForcedReview    bool    `gorm:"not null;default:false"`
	BBox            datatypes.JSON
	Flags           datatypes.JSON
}

// Correction is an immutable record of one reviewer edit. The live text for
// a token is the latest correction's corrected text, or the token's original
// text when uncorrected.
type Correction struct {
	ID            string    `gorm:"primaryKey"`
	DocumentID    string    `gorm:"not null;index"`
	PageID        string    `gorm:"not null;index"`
	TokenID       string    `gorm:"not null;index"`
	OriginalText  string    `gorm:"not null"`
	CorrectedText string    `gorm:"not null"`
	ConfirmedAt   time.Time `gorm:"not null"`
}

// AuditLog is an append-only journal entry. Entries are never updated, and
// deleted only when the retention engine reclaims the owning document.
type AuditLog struct {
	ID         string              `gorm:"primaryKey"`
	DocumentID string              `gorm:"not null;index"`
	PageID     string              `gorm:"index"`
	EventType  lifecycle.EventType `gorm:"not null"`
	Actor      string              `gorm:"not null;default:'local_user'"`
	Detail     datatypes.JSON      `gorm:"not null;default:'{}'"`
	CreatedAt  time.Time           `gorm:"not null;index"`
}

// All lists every model in AutoMigrate order.
func All() []any {
	return []any{&Document{}, &DocumentPage{}, &Token{}, &Correction{}, &AuditLog{}}
}
