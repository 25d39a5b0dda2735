package ocr

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// DefaultTesseractLangs reads Japanese cards with Latin contact details.
var DefaultTesseractLangs = []string{"jpn", "eng"}

// Tesseract runs OCR locally through libtesseract.
type Tesseract struct {
	langs []string
}

// NewTesseract creates a local OCR provider for the given language packs.
func NewTesseract(langs ...string) *Tesseract {
	if len(langs) == 0 {
		langs = DefaultTesseractLangs
	}
	return &Tesseract{langs: langs}
}

// DetectText implements Provider. A client is created per call since
// gosseract clients are not safe for concurrent use.
func (t *Tesseract) DetectText(ctx context.Context, image []byte) (card.OcrResult, error) {
	_, span := trace.StartSpan(ctx, "tesseract_ocr")
	defer span.End()

	if len(image) == 0 {
		return card.OcrResult{}, apperrors.New(apperrors.OCRInvalidImage, "empty image")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.langs...); err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.OCRFailed, "set tesseract language")
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.OCRInvalidImage, "load image into tesseract")
	}

	text, err := client.Text()
	if err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.OCRFailed, "tesseract OCR failed")
	}

	result := card.NewOcrResult(strings.TrimSpace(text), nil)

	// Line confidences are optional; some tesseract builds cannot report them.
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err == nil {
		confs := make([]float64, 0, len(boxes))
		for _, b := range boxes {
			if strings.TrimSpace(b.Word) != "" {
				confs = append(confs, b.Confidence)
			}
		}
		result.Confidence = meanConfidence(confs)
	}

	span.SetAttr("lines", len(result.Lines))
	return result, nil
}

// meanConfidence averages tesseract's 0-100 scores into [0,1].
func meanConfidence(scores []float64) *float64 {
	if len(scores) == 0 {
		return nil
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	c := min(max(sum/float64(len(scores))/100, 0), 1)
	return &c
}
