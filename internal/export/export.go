// Package export renders validated content for download and records the
// exported transition. Export is legal from validated or later; re-exporting
// an exported document is allowed.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"vera/internal/audit"
	"vera/internal/lifecycle"
	"vera/internal/store"
)

// Result is one rendered export payload.
type Result struct {
	ContentType string
	Body        string
}

// Service performs document- and page-scoped exports.
type Service struct {
	store *store.Store
	actor string
}

func New(st *store.Store, actor string) *Service {
	return &Service{store: st, actor: actor}
}

// Document exports a whole document in the given format (json, txt or csv).
func (s *Service) Document(ctx context.Context, documentID, format string) (*Result, error) {
	format = normalizeFormat(format)
	var res *Result
	err := s.store.Tx(func(tx *gorm.DB) error {
		doc, err := store.GetDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(doc.Status, lifecycle.StatusExported); err != nil {
			return err
		}
		if doc.Status != lifecycle.StatusExported {
			if err := store.UpdateDocument(tx, doc, map[string]any{"status": lifecycle.StatusExported}); err != nil {
				return err
			}
		}
		if err := audit.Record(tx, documentID, "", lifecycle.EventExported, s.actor,
			map[string]any{"format": format}); err != nil {
			return err
		}
		res, err = render(format, map[string]any{
			"document_id":       documentID,
			"validated_text":    doc.ValidatedText,
			"structured_fields": json.RawMessage(doc.StructuredFields),
		}, doc.ValidatedText)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Document exported.", "documentId", documentID, "format", format)
	return res, nil
}

// Page exports a single page.
func (s *Service) Page(ctx context.Context, documentID, pageID, format string) (*Result, error) {
	format = normalizeFormat(format)
	var res *Result
	err := s.store.Tx(func(tx *gorm.DB) error {
		if _, err := store.GetDocument(tx, documentID); err != nil {
			return err
		}
		page, err := store.GetPage(tx, documentID, pageID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(page.Status, lifecycle.StatusExported); err != nil {
			return err
		}
		if page.Status != lifecycle.StatusExported {
			if err := store.UpdatePage(tx, page, map[string]any{"status": lifecycle.StatusExported}); err != nil {
				return err
			}
		}
		if err := audit.Record(tx, documentID, pageID, lifecycle.EventExported, s.actor,
			map[string]any{"format": format, "scope": "page"}); err != nil {
			return err
		}
		res, err = render(format, map[string]any{
			"document_id":       documentID,
			"page_id":           pageID,
			"validated_text":    page.ValidatedText,
			"structured_fields": json.RawMessage(page.StructuredFields),
		}, page.ValidatedText)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Page exported.", "documentId", documentID, "pageId", pageID, "format", format)
	return res, nil
}

func normalizeFormat(format string) string {
	switch f := strings.ToLower(format); f {
	case "txt", "csv":
		return f
	default:
		return "json"
	}
}

func render(format string, payload map[string]any, validatedText string) (*Result, error) {
	switch format {
	case "txt":
		return &Result{ContentType: "text/plain", Body: validatedText}, nil
	case "csv":
		return renderCSV(payload, validatedText)
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal export payload: %w", err)
		}
		return &Result{ContentType: "application/json", Body: string(body)}, nil
	}
}

func renderCSV(payload map[string]any, validatedText string) (*Result, error) {
	records := [][]string{
		{"key", "value"},
		{"document_id", fmt.Sprint(payload["document_id"])},
	}
	if pageID, ok := payload["page_id"]; ok {
		records = append(records, []string{"page_id", fmt.Sprint(pageID)})
	}
	records = append(records, []string{"validated_text", strings.ReplaceAll(validatedText, "\n", " ")})

	var fields map[string]any
	if raw, ok := payload["structured_fields"].(json.RawMessage); ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode structured fields: %w", err)
		}
	}
	for key, value := range fields {
		records = append(records, []string{key, fmt.Sprint(value)})
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to write csv export: %w", err)
	}
	return &Result{ContentType: "text/csv", Body: b.String()}, nil
}
