package extract

import (
	"context"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Fallback reasons reported to the hook.
const (
	ReasonBreakerOpen  = "breaker_open"
	ReasonServiceError = "service_error"
	ReasonParseError   = "parse_error"
)

// FallbackExtractor tries a primary extractor and falls back to a secondary
// one when the primary fails with an extraction error. While the breaker is
// open the primary is not called at all.
type FallbackExtractor struct {
	primary    Extractor
	secondary  Extractor
	breaker    *resilience.Breaker
	onError    bool
	onFallback func(reason string)
}

// FallbackOption configures a FallbackExtractor.
type FallbackOption func(*FallbackExtractor)

// WithBreaker guards the primary extractor with a circuit breaker.
func WithBreaker(b *resilience.Breaker) FallbackOption {
	return func(f *FallbackExtractor) { f.breaker = b }
}

// WithFallbackOnError controls whether extraction errors fall back (default true).
// When false the primary's error is returned to the caller.
func WithFallbackOnError(enabled bool) FallbackOption {
	return func(f *FallbackExtractor) { f.onError = enabled }
}

// WithFallbackHook observes every fallback with its reason.
func WithFallbackHook(fn func(reason string)) FallbackOption {
	return func(f *FallbackExtractor) { f.onFallback = fn }
}

// NewFallbackExtractor chains primary and secondary extractors.
func NewFallbackExtractor(primary, secondary Extractor, opts ...FallbackOption) *FallbackExtractor {
	f := &FallbackExtractor{primary: primary, secondary: secondary, onError: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Extract implements Extractor.
func (f *FallbackExtractor) Extract(ctx context.Context, ocr card.OcrResult) (Extraction, error) {
	log := trace.Logger(ctx)

	if f.breaker != nil {
		if err := f.breaker.Allow(); err != nil {
			log.Debug("primary extractor skipped", "reason", err)
			return f.fallback(ctx, ocr, ReasonBreakerOpen)
		}
	}

	ext, err := f.primary.Extract(ctx, ocr)
	if f.breaker != nil {
		f.breaker.Record(err)
	}
	if err == nil {
		return ext, nil
	}

	var reason string
	switch {
	case apperrors.IsCode(err, apperrors.ExtractService):
		reason = ReasonServiceError
	case apperrors.IsCode(err, apperrors.ExtractParse):
		reason = ReasonParseError
	default:
		return Extraction{}, err
	}

	if !f.onError {
		return Extraction{}, err
	}
	log.Warn("primary extractor failed, using fallback", "reason", reason, "error", err)
	return f.fallback(ctx, ocr, reason)
}

func (f *FallbackExtractor) fallback(ctx context.Context, ocr card.OcrResult, reason string) (Extraction, error) {
	if f.onFallback != nil {
		f.onFallback(reason)
	}
	ext, err := f.secondary.Extract(ctx, ocr)
	if err != nil {
		return Extraction{}, err
	}
	ext.Source = SourceFallback
	return ext, nil
}
