// Package recognize defines the recognition collaborator contract. The
// engine is a black box invoked once per page; it may be called repeatedly
// for the same page and must not be assumed transactional.
package recognize

import (
	"context"
	"strings"

	"vera/internal/config"
)

// PageStatus is the outcome vocabulary of one recognition call.
type PageStatus string

const (
	PageOK       PageStatus = "ok"
	PageCanceled PageStatus = "canceled"
	PageError    PageStatus = "error"
)

// Word is one recognized token with position and confidence.
type Word struct {
	LineID     string
	LineIndex  int
	TokenIndex int
	Text       string
	// Confidence is normalized to 0.0–1.0.
	Confidence float64
	// BBox is [x0, y0, x1, y1] in page-image pixel coordinates.
	BBox  [4]float64
	Flags []string
}

// PageResult is the full output of one recognition call.
type PageResult struct {
	Words  []Word
	Status PageStatus
	Detail string
}

// Engine is the recognition collaborator.
type Engine interface {
	Name() string
	// Available is the capability check: a reachable engine returns nil, an
	// unreachable one a typed upstream_unavailable fault. Callers branch on
	// the result instead of discovering the absence mid-dispatch.
	Available(ctx context.Context) error
	RecognizePage(ctx context.Context, imagePath string) (PageResult, error)
}

// ConfidenceLabel buckets a confidence value using the configured thresholds.
func ConfidenceLabel(cfg config.OCRConfig, confidence float64) string {
	switch {
	case confidence < cfg.LowConfidence:
		return "low"
	case confidence >= cfg.HighConfidence:
		return "high"
	default:
		return "medium"
	}
}

// ForcedReview reports whether a token's confidence falls below the
// forced-review threshold.
func ForcedReview(cfg config.OCRConfig, confidence float64) bool {
	return confidence < cfg.ForcedReviewThreshold
}

// ambiguousGlyphs are characters OCR engines commonly confuse with one
// another (0/O, 1/l/I, 5/S, 8/B).
const ambiguousGlyphs = "0O1lI5S8B"

// AnomalyFlags derives anomaly markers for a recognized text.
func AnomalyFlags(text string) []string {
	var flags []string
	if strings.ContainsAny(text, ambiguousGlyphs) {
		flags = append(flags, "ambiguous_character")
	}
	hasDigit, hasLetter := false, false
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if hasDigit && hasLetter {
		flags = append(flags, "mixed_alphanumeric")
	}
	return flags
}
