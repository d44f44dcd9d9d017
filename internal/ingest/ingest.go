// Package ingest turns raw uploaded bytes into a document with N page
// artifacts. PDFs are optimized and split into one file per page via pdfcpu;
// plain images become single-page documents. Rows are created in the
// uploaded state with one uploaded audit entry.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"gorm.io/gorm"

	"vera/internal/audit"
	"vera/internal/config"
	"vera/internal/fault"
	"vera/internal/lifecycle"
	"vera/internal/models"
	"vera/internal/store"
)

var supportedExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
}

// Ingestor persists uploads and their page artifacts.
type Ingestor struct {
	store *store.Store
	cfg   *config.Config
}

func New(st *store.Store, cfg *config.Config) *Ingestor {
	return &Ingestor{store: st, cfg: cfg}
}

// Ingest validates and stores one upload, returning the created document and
// its pages in page_index order.
func (ing *Ingestor) Ingest(ctx context.Context, raw []byte, filename string) (*models.Document, []models.DocumentPage, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return nil, nil, fault.New(fault.UnsupportedInput, "unsupported file type %q", ext)
	}
	if max := ing.cfg.MaxUploadMB; max > 0 && len(raw) > max*1024*1024 {
		return nil, nil, fault.New(fault.UnsupportedInput, "file exceeds the %d MB upload limit", max)
	}
	if err := sniff(raw, ext); err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(ing.cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	documentID := uuid.NewString()
	originalPath := filepath.Join(ing.cfg.DataDir, documentID+ext)
	if err := os.WriteFile(originalPath, raw, 0o644); err != nil {
		return nil, nil, fmt.Errorf("failed to store upload: %w", err)
	}

	var pages []models.DocumentPage
	var err error
	if ext == ".pdf" {
		pages, err = ing.splitPDF(documentID, originalPath)
	} else {
		pages, err = ing.singleImage(documentID, originalPath, raw)
	}
	if err != nil {
		_ = os.Remove(originalPath)
		return nil, nil, err
	}

	doc := &models.Document{
		ID:               documentID,
		ImagePath:        pages[0].ImagePath,
		ImageWidth:       pages[0].ImageWidth,
		ImageHeight:      pages[0].ImageHeight,
		Status:           lifecycle.StatusUploaded,
		StructuredFields: []byte("{}"),
		PageCount:        len(pages),
	}
	err = ing.store.Tx(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document row: %w", err)
		}
		if err := tx.Create(&pages).Error; err != nil {
			return fmt.Errorf("failed to create page rows: %w", err)
		}
		return audit.Record(tx, documentID, "", lifecycle.EventUploaded, ing.cfg.Actor,
			map[string]any{"filename": filename, "page_count": len(pages)})
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Upload ingested.", "documentId", documentID, "filename", filename, "pages", len(pages))
	return doc, pages, nil
}

// splitPDF optimizes the PDF, splits it into one artifact per page, and
// reads page dimensions.
func (ing *Ingestor) splitPDF(documentID, sourcePath string) ([]models.DocumentPage, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	optimizedPath := strings.TrimSuffix(sourcePath, ".pdf") + "-opt.pdf"
	if err := api.OptimizeFile(sourcePath, optimizedPath, conf); err != nil {
		return nil, fault.Wrap(fault.UnsupportedInput, err, "failed to validate PDF")
	}
	defer os.Remove(optimizedPath)

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, fault.Wrap(fault.UnsupportedInput, err, "failed to read PDF page count")
	}
	if pageCount == 0 {
		return nil, fault.New(fault.UnsupportedInput, "PDF has no pages")
	}
	dims, err := api.PageDimsFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF page dimensions: %w", err)
	}

	if err := api.SplitFile(optimizedPath, ing.cfg.DataDir, 1, conf); err != nil {
		return nil, fault.Wrap(fault.UnsupportedInput, err, "failed to split PDF")
	}

	splitBase := strings.TrimSuffix(filepath.Base(optimizedPath), ".pdf")
	pages := make([]models.DocumentPage, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		splitPath := filepath.Join(ing.cfg.DataDir, fmt.Sprintf("%s_%d.pdf", splitBase, i+1))
		pagePath := filepath.Join(ing.cfg.DataDir, fmt.Sprintf("%s-page-%d.pdf", documentID, i))
		if err := os.Rename(splitPath, pagePath); err != nil {
			return nil, fmt.Errorf("failed to place page artifact %d: %w", i, err)
		}
		width, height := 0, 0
		if i < len(dims) {
			width, height = int(dims[i].Width), int(dims[i].Height)
		}
		pages = append(pages, models.DocumentPage{
			ID:               uuid.NewString(),
			DocumentID:       documentID,
			PageIndex:        i,
			ImagePath:        pagePath,
			ImageWidth:       width,
			ImageHeight:      height,
			Status:           lifecycle.StatusUploaded,
			StructuredFields: []byte("{}"),
		})
	}
	return pages, nil
}

// singleImage wraps a plain image upload as a one-page document.
func (ing *Ingestor) singleImage(documentID, path string, raw []byte) ([]models.DocumentPage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.UnsupportedInput, err, "failed to decode image")
	}
	return []models.DocumentPage{{
		ID:               uuid.NewString(),
		DocumentID:       documentID,
		PageIndex:        0,
		ImagePath:        path,
		ImageWidth:       cfg.Width,
		ImageHeight:      cfg.Height,
		Status:           lifecycle.StatusUploaded,
		StructuredFields: []byte("{}"),
	}}, nil
}

// sniff verifies the magic bytes match the claimed extension.
func sniff(raw []byte, ext string) error {
	ok := false
	switch ext {
	case ".pdf":
		ok = bytes.HasPrefix(raw, []byte("%PDF"))
	case ".png":
		ok = bytes.HasPrefix(raw, []byte("\x89PNG"))
	case ".jpg", ".jpeg":
		ok = bytes.HasPrefix(raw, []byte("\xff\xd8"))
	}
	if !ok {
		return fault.New(fault.UnsupportedInput, "file content does not match %s", ext)
	}
	return nil
}
