// Package ocr provides the text recognizers a scan can run against: local
// Tesseract, Google Cloud Vision, or a remote gRPC OCR service.
package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/grpcclient"
)

// Provider names
const (
	ProviderTesseract = "tesseract"
	ProviderVision    = "vision"
	ProviderGRPC      = "grpc"
)

// Provider recognizes text in an encoded image.
type Provider interface {
	DetectText(ctx context.Context, image []byte) (card.OcrResult, error)
}

// Closer is implemented by providers holding connections.
type Closer interface {
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Provider       string
	TesseractLangs []string
	VisionAPIKey   string
	VisionTimeout  time.Duration
	GRPCAddr       string
}

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderTesseract:
		return NewTesseract(cfg.TesseractLangs...), nil
	case ProviderVision:
		return NewVision(VisionConfig{APIKey: cfg.VisionAPIKey, Timeout: cfg.VisionTimeout})
	case ProviderGRPC:
		gc := grpcclient.DefaultConfig()
		gc.Addr = cfg.GRPCAddr
		return grpcclient.New(gc)
	default:
		return nil, apperrors.Newf(apperrors.ConfigInvalid, "unknown OCR provider %q", cfg.Provider)
	}
}
