// Package validation applies reviewer submissions to recognized tokens.
// A submission is all-or-nothing: the forced-review gate is checked before
// any write, corrections are immutable layered edits, and replaying an
// identical submission is a no-op. Status changes ride the same transaction
// as their audit entry.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vera/internal/audit"
	"vera/internal/config"
	"vera/internal/fault"
	"vera/internal/lifecycle"
	"vera/internal/models"
	"vera/internal/store"
)

// CorrectionInput is one requested token edit.
type CorrectionInput struct {
	TokenID       string `json:"token_id"`
	CorrectedText string `json:"corrected_text"`
}

// Submission is a reviewer's batch for a document or one of its pages.
type Submission struct {
	Corrections      []CorrectionInput `json:"corrections"`
	ReviewedTokenIDs []string          `json:"reviewed_token_ids"`
	ReviewComplete   bool              `json:"review_complete"`
	// StructuredFields, when non-nil, replaces the stored bag.
	StructuredFields map[string]any `json:"structured_fields"`
}

// Outcome reports the post-submission state of the target scope.
type Outcome struct {
	ValidatedText string
	Status        lifecycle.Status
	ValidatedAt   *time.Time
}

// Engine is the validation and correction engine.
type Engine struct {
	store *store.Store
	cfg   *config.Config
}

func New(st *store.Store, cfg *config.Config) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// ApplyPage applies a submission to one page.
func (e *Engine) ApplyPage(ctx context.Context, documentID, pageID string, sub Submission) (*Outcome, error) {
	var out *Outcome
	err := e.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		page, err := store.GetPage(tx, documentID, pageID)
		if err != nil {
			return err
		}
		tokens, err := store.TokensByPage(tx, documentID, pageID)
		if err != nil {
			return err
		}
		out, err = e.apply(tx, doc, page, tokens, sub)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Page submission applied.", "documentId", documentID, "pageId", pageID,
		"status", out.Status, "reviewComplete", sub.ReviewComplete)
	return out, nil
}

// ApplyDocument applies a submission across the whole document — the
// single-page review path. All pages complete review together.
func (e *Engine) ApplyDocument(ctx context.Context, documentID string, sub Submission) (*Outcome, error) {
	var out *Outcome
	err := e.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		tokens, err := store.TokensByDocument(tx, documentID)
		if err != nil {
			return err
		}
		out, err = e.apply(tx, doc, nil, tokens, sub)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Document submission applied.", "documentId", documentID,
		"status", out.Status, "reviewComplete", sub.ReviewComplete)
	return out, nil
}

// apply is the shared core. page == nil means document scope.
func (e *Engine) apply(tx *gorm.DB, doc *models.Document, page *models.DocumentPage, tokens []models.Token, sub Submission) (*Outcome, error) {
	pageID := ""
	if page != nil {
		pageID = page.ID
	}

	byID := make(map[string]*models.Token, len(tokens))
	for i := range tokens {
		byID[tokens[i].ID] = &tokens[i]
	}
	latest, err := store.LatestCorrections(tx, doc.ID, pageID)
	if err != nil {
		return nil, err
	}
	liveText := func(t *models.Token) string {
		if c, ok := latest[t.ID]; ok {
			return c.CorrectedText
		}
		return t.Text
	}

	// Forced-review gate, checked before any write. Rejection leaves zero
	// new rows behind.
	if sub.ReviewComplete {
		reviewed := make(map[string]bool, len(sub.ReviewedTokenIDs))
		for _, id := range sub.ReviewedTokenIDs {
			reviewed[id] = true
		}
		for i := range tokens {
			t := &tokens[i]
			if t.ForcedReview && !reviewed[t.ID] {
				return nil, fault.New(fault.ReviewIncomplete,
					"forced-review token %s was not confirmed", t.ID)
			}
		}
	}

	changed := false
	now := time.Now().UTC()
	for _, c := range sub.Corrections {
		token, ok := byID[c.TokenID]
		if !ok {
			return nil, fault.New(fault.NotFound, "token %s not found in submission scope", c.TokenID)
		}
		if c.CorrectedText == liveText(token) {
			// Duplicate retry of an already-applied value: no new row, so the
			// latest-correction result cannot shift.
			continue
		}
		row := models.Correction{
			ID:            uuid.NewString(),
			DocumentID:    doc.ID,
			PageID:        token.PageID,
			TokenID:       token.ID,
			OriginalText:  token.Text,
			CorrectedText: c.CorrectedText,
			ConfirmedAt:   now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("failed to persist correction for token %s: %w", token.ID, err)
		}
		latest[token.ID] = row
		changed = true
	}

	validatedText := assembleText(tokens, latest)

	fieldsBlob, fieldsChanged, err := e.fieldsUpdate(doc, page, sub.StructuredFields)
	if err != nil {
		return nil, err
	}
	changed = changed || fieldsChanged

	if page != nil {
		return e.finalizePage(tx, doc, page, sub, validatedText, fieldsBlob, changed, now)
	}
	return e.finalizeDocument(tx, doc, sub, validatedText, fieldsBlob, changed, now)
}

func (e *Engine) finalizePage(tx *gorm.DB, doc *models.Document, page *models.DocumentPage, sub Submission, validatedText string, fieldsBlob []byte, changed bool, now time.Time) (*Outcome, error) {
	completing := sub.ReviewComplete && page.ReviewCompleteAt == nil
	if !changed && !completing && validatedText == page.ValidatedText {
		// Identical replay: same validated_text, no extra audit entry.
		return &Outcome{ValidatedText: page.ValidatedText, Status: page.Status, ValidatedAt: page.ReviewCompleteAt}, nil
	}

	updates := map[string]any{"validated_text": validatedText}
	if fieldsBlob != nil {
		updates["structured_fields"] = fieldsBlob
	}
	event := lifecycle.EventFieldsUpdated
	validatedAt := page.ReviewCompleteAt
	status := page.Status

	if completing {
		if err := lifecycle.Check(page.Status, lifecycle.StatusValidated); err != nil {
			return nil, err
		}
		updates["status"] = lifecycle.StatusValidated
		updates["review_complete_at"] = now
		event = lifecycle.EventValidated
		status = lifecycle.StatusValidated
		validatedAt = &now
	}
	if err := store.UpdatePage(tx, page, updates); err != nil {
		return nil, err
	}
	page.Status = status
	page.ValidatedText = validatedText
	page.ReviewCompleteAt = validatedAt

	if err := audit.Record(tx, doc.ID, page.ID, event, e.cfg.Actor, map[string]any{
		"correction_count": len(sub.Corrections),
		"review_complete":  sub.ReviewComplete,
	}); err != nil {
		return nil, err
	}

	if completing {
		if err := e.aggregateDocument(tx, doc, now); err != nil {
			return nil, err
		}
	} else if page.ReviewCompleteAt != nil {
		// Post-review edit to an already-validated page: the document-level
		// join must follow the page text.
		if err := e.refreshDocumentText(tx, doc); err != nil {
			return nil, err
		}
	}
	return &Outcome{ValidatedText: validatedText, Status: status, ValidatedAt: validatedAt}, nil
}

func (e *Engine) finalizeDocument(tx *gorm.DB, doc *models.Document, sub Submission, validatedText string, fieldsBlob []byte, changed bool, now time.Time) (*Outcome, error) {
	completing := sub.ReviewComplete && doc.ReviewCompleteAt == nil
	if !changed && !completing && validatedText == doc.ValidatedText {
		return &Outcome{ValidatedText: doc.ValidatedText, Status: doc.Status, ValidatedAt: doc.ReviewCompleteAt}, nil
	}

	updates := map[string]any{"validated_text": validatedText}
	if fieldsBlob != nil {
		updates["structured_fields"] = fieldsBlob
	}
	event := lifecycle.EventFieldsUpdated
	validatedAt := doc.ReviewCompleteAt
	status := doc.Status

	if completing {
		if err := lifecycle.Check(doc.Status, lifecycle.StatusValidated); err != nil {
			return nil, err
		}
		updates["status"] = lifecycle.StatusValidated
		updates["review_complete_at"] = now
		event = lifecycle.EventValidated
		status = lifecycle.StatusValidated
		validatedAt = &now
	}
	if err := store.UpdateDocument(tx, doc, updates); err != nil {
		return nil, err
	}
	doc.Status = status
	doc.ValidatedText = validatedText
	doc.ReviewCompleteAt = validatedAt

	if completing {
		// Whole-document review completes every page with it.
		pages, err := store.PagesByDocument(tx, doc.ID)
		if err != nil {
			return nil, err
		}
		for i := range pages {
			page := &pages[i]
			if page.ReviewCompleteAt != nil {
				continue
			}
			if err := lifecycle.Check(page.Status, lifecycle.StatusValidated); err != nil {
				return nil, err
			}
			err := store.UpdatePage(tx, page, map[string]any{
				"status":             lifecycle.StatusValidated,
				"review_complete_at": now,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if err := audit.Record(tx, doc.ID, "", event, e.cfg.Actor, map[string]any{
		"correction_count": len(sub.Corrections),
		"review_complete":  sub.ReviewComplete,
	}); err != nil {
		return nil, err
	}
	return &Outcome{ValidatedText: validatedText, Status: status, ValidatedAt: validatedAt}, nil
}

// aggregateDocument flips the document to validated once every page has
// completed review. The document-level transition carries its own audit
// entry; the page entry alone would leave the aggregate flip unjournaled.
func (e *Engine) aggregateDocument(tx *gorm.DB, doc *models.Document, now time.Time) error {
	pages, err := store.PagesByDocument(tx, doc.ID)
	if err != nil {
		return err
	}
	for _, page := range pages {
		if page.ReviewCompleteAt == nil {
			return nil
		}
	}
	if err := lifecycle.Check(doc.Status, lifecycle.StatusValidated); err != nil {
		return err
	}
	var texts []string
	for _, page := range pages {
		texts = append(texts, page.ValidatedText)
	}
	err = store.UpdateDocument(tx, doc, map[string]any{
		"status":             lifecycle.StatusValidated,
		"review_complete_at": now,
		"validated_text":     strings.Join(texts, "\n\n"),
	})
	if err != nil {
		return err
	}
	doc.Status = lifecycle.StatusValidated
	doc.ReviewCompleteAt = &now
	return audit.Record(tx, doc.ID, "", lifecycle.EventValidated, e.cfg.Actor,
		map[string]any{"page_count": len(pages)})
}

// refreshDocumentText recomputes the document's validated_text from its
// pages after one page's text changed post-review. No status transition; the
// page-level audit entry already covers the edit.
func (e *Engine) refreshDocumentText(tx *gorm.DB, doc *models.Document) error {
	pages, err := store.PagesByDocument(tx, doc.ID)
	if err != nil {
		return err
	}
	var texts []string
	for _, page := range pages {
		if page.ReviewCompleteAt == nil {
			return nil
		}
		texts = append(texts, page.ValidatedText)
	}
	joined := strings.Join(texts, "\n\n")
	if joined == doc.ValidatedText {
		return nil
	}
	if err := store.UpdateDocument(tx, doc, map[string]any{"validated_text": joined}); err != nil {
		return err
	}
	doc.ValidatedText = joined
	return nil
}

// fieldsUpdate serializes a replacement structured-fields bag and reports
// whether it differs from the stored one. nil input means "not provided".
func (e *Engine) fieldsUpdate(doc *models.Document, page *models.DocumentPage, fields map[string]any) ([]byte, bool, error) {
	if fields == nil {
		return nil, false, nil
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal structured fields: %w", err)
	}
	current := doc.StructuredFields
	if page != nil {
		current = page.StructuredFields
	}
	return blob, !bytes.Equal(blob, current), nil
}

// assembleText rebuilds the live text: tokens in line-major order, each
// substituted with its latest correction, tokens joined by a single space
// and lines by a newline.
func assembleText(tokens []models.Token, latest map[string]models.Correction) string {
	var b strings.Builder
	lastPage, lastLine := "", -1
	first := true
	for _, t := range tokens {
		text := t.Text
		if c, ok := latest[t.ID]; ok {
			text = c.CorrectedText
		}
		switch {
		case first:
			first = false
		case t.PageID != lastPage || t.LineIndex != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(text)
		lastPage, lastLine = t.PageID, t.LineIndex
	}
	return b.String()
}
