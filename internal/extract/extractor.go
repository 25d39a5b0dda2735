// Package extract turns OCR text into structured business-card records.
package extract

import (
	"context"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
)

// Extraction sources.
const (
	SourceRules    = "rules"
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Extraction is the result of one extractor run.
type Extraction struct {
	Card           card.Card
	IsBusinessCard bool
	Source         string
}

// Extractor converts OCR output to a card record.
type Extractor interface {
	Extract(ctx context.Context, ocr card.OcrResult) (Extraction, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, ocr card.OcrResult) (Extraction, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, ocr card.OcrResult) (Extraction, error) {
	return f(ctx, ocr)
}

// stamp sets the provenance metadata every extractor must carry.
func stamp(c *card.Card, ocr card.OcrResult, now func() time.Time) {
	c.RawText = ocr.FullText
	c.ScannedAt = now()
}
