// Package summary produces text summaries over validated content. The
// summarizer is a black-box collaborator behind an explicit capability
// check; an unreachable backend degrades to a typed upstream_unavailable
// fault rather than a late surprise.
package summary

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"vera/internal/audit"
	"vera/internal/fault"
	"vera/internal/lifecycle"
	"vera/internal/store"
)

// Summarizer is the summarization collaborator.
type Summarizer interface {
	Name() string
	Available(ctx context.Context) error
	Summarize(ctx context.Context, text string) (string, error)
}

// Service gates summarization on the lifecycle and records the transition.
type Service struct {
	store      *store.Store
	summarizer Summarizer
	actor      string
}

func New(st *store.Store, summarizer Summarizer, actor string) *Service {
	return &Service{store: st, summarizer: summarizer, actor: actor}
}

// Document summarizes a document's validated text. Legal once the document
// is validated or later; the first call moves validated → summarized.
func (s *Service) Document(ctx context.Context, documentID string) (string, error) {
	doc, err := store.GetDocument(s.store.DB(), documentID)
	if err != nil {
		return "", err
	}
	if !lifecycle.Validatable(doc.Status) && doc.Status != lifecycle.StatusExported {
		return "", fault.New(fault.InvalidTransition, "document %s is %s, not validated", documentID, doc.Status)
	}
	if err := s.summarizer.Available(ctx); err != nil {
		return "", err
	}
	text, err := s.summarizer.Summarize(ctx, doc.ValidatedText)
	if err != nil {
		return "", fault.Wrap(fault.UpstreamUnavailable, err, "summarization failed")
	}

	if doc.Status == lifecycle.StatusValidated {
		err = s.store.Tx(func(tx *gorm.DB) error {
			doc, err := store.GetDocument(tx, documentID)
			if err != nil {
				return err
			}
			if doc.Status != lifecycle.StatusValidated {
				return nil
			}
			if err := lifecycle.Check(doc.Status, lifecycle.StatusSummarized); err != nil {
				return err
			}
			if err := store.UpdateDocument(tx, doc, map[string]any{"status": lifecycle.StatusSummarized}); err != nil {
				return err
			}
			return audit.Record(tx, documentID, "", lifecycle.EventSummarized, s.actor,
				map[string]any{"backend": s.summarizer.Name()})
		})
		if err != nil {
			return "", err
		}
	}
	slog.Info("Document summarized.", "documentId", documentID, "backend", s.summarizer.Name())
	return text, nil
}

// Page summarizes one page's validated text.
func (s *Service) Page(ctx context.Context, documentID, pageID string) (string, error) {
	page, err := store.GetPage(s.store.DB(), documentID, pageID)
	if err != nil {
		return "", err
	}
	if !lifecycle.Validatable(page.Status) && page.Status != lifecycle.StatusExported {
		return "", fault.New(fault.InvalidTransition, "page %s is %s, not validated", pageID, page.Status)
	}
	if err := s.summarizer.Available(ctx); err != nil {
		return "", err
	}
	text, err := s.summarizer.Summarize(ctx, page.ValidatedText)
	if err != nil {
		return "", fault.Wrap(fault.UpstreamUnavailable, err, "summarization failed")
	}

	if page.Status == lifecycle.StatusValidated {
		err = s.store.Tx(func(tx *gorm.DB) error {
			page, err := store.GetPage(tx, documentID, pageID)
			if err != nil {
				return err
			}
			if page.Status != lifecycle.StatusValidated {
				return nil
			}
			if err := lifecycle.Check(page.Status, lifecycle.StatusSummarized); err != nil {
				return err
			}
			if err := store.UpdatePage(tx, page, map[string]any{"status": lifecycle.StatusSummarized}); err != nil {
				return err
			}
			return audit.Record(tx, documentID, pageID, lifecycle.EventSummarized, s.actor,
				map[string]any{"backend": s.summarizer.Name()})
		})
		if err != nil {
			return "", err
		}
	}
	slog.Info("Page summarized.", "documentId", documentID, "pageId", pageID)
	return text, nil
}
