// Package tesseract implements the recognition engine on the gosseract
// client. Requires the tesseract C library and trained data at runtime.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"vera/internal/fault"
	"vera/internal/recognize"
)

// Engine runs Tesseract per page through gosseract.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine with the given language hints.
func New(languages []string) *Engine {
	return &Engine{
		languages:     append([]string(nil), languages...),
		clientFactory: gosseract.NewClient,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Available checks the installed trained data. An engine without any
// language packs cannot recognize anything and reports unavailable.
func (e *Engine) Available(ctx context.Context) error {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, err, "tesseract is not available")
	}
	if len(langs) == 0 {
		return fault.New(fault.UpstreamUnavailable, "tesseract has no trained languages installed")
	}
	return nil
}

// RecognizePage runs OCR over one page image and returns its words in
// line-major order. Cooperative cancellation: the context is checked before
// the (blocking) native call; a cancellation observed afterwards discards
// the output and reports the canceled status.
func (e *Engine) RecognizePage(ctx context.Context, imagePath string) (recognize.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return recognize.PageResult{Status: recognize.PageCanceled, Detail: err.Error()}, nil
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImage(imagePath); err != nil {
		return recognize.PageResult{}, fmt.Errorf("set image %s: %w", imagePath, err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return recognize.PageResult{}, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxesVerbose()
	if err != nil {
		return recognize.PageResult{}, fmt.Errorf("recognize %s: %w", imagePath, err)
	}
	if err := ctx.Err(); err != nil {
		return recognize.PageResult{Status: recognize.PageCanceled, Detail: err.Error()}, nil
	}

	return recognize.PageResult{Words: wordsFromBoxes(boxes), Status: recognize.PageOK}, nil
}

// wordsFromBoxes flattens Tesseract's block/paragraph/line hierarchy into a
// contiguous line-major word sequence.
func wordsFromBoxes(boxes []gosseract.BoundingBox) []recognize.Word {
	words := make([]recognize.Word, 0, len(boxes))
	lineIndex := -1
	tokenIndex := 0
	var lastKey string
	for _, b := range boxes {
		key := fmt.Sprintf("%d-%d-%d", b.BlockNum, b.ParNum, b.LineNum)
		if key != lastKey {
			lineIndex++
			tokenIndex = 0
			lastKey = key
		}
		words = append(words, recognize.Word{
			LineID:     fmt.Sprintf("line-%d", lineIndex),
			LineIndex:  lineIndex,
			TokenIndex: tokenIndex,
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			BBox: [4]float64{
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			},
			Flags: recognize.AnomalyFlags(b.Word),
		})
		tokenIndex++
	}
	return words
}
