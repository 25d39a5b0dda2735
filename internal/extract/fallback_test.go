package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
)

type stubExtractor struct {
	ext   Extraction
	err   error
	calls int
}

func (s *stubExtractor) Extract(context.Context, card.OcrResult) (Extraction, error) {
	s.calls++
	return s.ext, s.err
}

func TestFallbackUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubExtractor{ext: Extraction{Source: SourceAI, IsBusinessCard: true}}
	secondary := &stubExtractor{}

	ext, err := NewFallbackExtractor(primary, secondary).Extract(context.Background(), card.OcrResult{})
	require.NoError(t, err)
	assert.Equal(t, SourceAI, ext.Source)
	assert.Zero(t, secondary.calls)
}

func TestFallbackOnServiceAndParseErrors(t *testing.T) {
	for _, tc := range []struct {
		err    error
		reason string
	}{
		{apperrors.ExtractionService(nil, "503"), ReasonServiceError},
		{apperrors.ExtractionParse(nil, "garbage"), ReasonParseError},
	} {
		var reasons []string
		primary := &stubExtractor{err: tc.err}
		secondary := &stubExtractor{ext: Extraction{Source: SourceRules, IsBusinessCard: true}}
		f := NewFallbackExtractor(primary, secondary, WithFallbackHook(func(r string) { reasons = append(reasons, r) }))

		ext, err := f.Extract(context.Background(), card.OcrResult{})
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, ext.Source)
		assert.Equal(t, []string{tc.reason}, reasons)
	}
}

func TestFallbackDisabledPropagatesError(t *testing.T) {
	primary := &stubExtractor{err: apperrors.ExtractionService(nil, "503")}
	secondary := &stubExtractor{}

	_, err := NewFallbackExtractor(primary, secondary, WithFallbackOnError(false)).Extract(context.Background(), card.OcrResult{})
	assert.True(t, apperrors.IsCode(err, apperrors.ExtractService))
	assert.Zero(t, secondary.calls)
}

func TestFallbackDoesNotMaskOtherErrors(t *testing.T) {
	primary := &stubExtractor{err: context.Canceled}
	secondary := &stubExtractor{}

	_, err := NewFallbackExtractor(primary, secondary).Extract(context.Background(), card.OcrResult{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, secondary.calls)
}

func TestFallbackSkipsPrimaryWhileBreakerOpen(t *testing.T) {
	primary := &stubExtractor{err: apperrors.ExtractionService(nil, "503")}
	secondary := &stubExtractor{ext: Extraction{IsBusinessCard: true}}
	b := resilience.New("ai", resilience.Config{Threshold: 2, Cooldown: time.Hour})
	f := NewFallbackExtractor(primary, secondary, WithBreaker(b))

	for i := 0; i < 4; i++ {
		_, err := f.Extract(context.Background(), card.OcrResult{})
		require.NoError(t, err)
	}

	assert.Equal(t, resilience.Open, b.State())
	assert.Equal(t, 2, primary.calls, "primary is skipped once the breaker opens")
	assert.Equal(t, 4, secondary.calls)
}

func TestFallbackEndToEndWithRules(t *testing.T) {
	primary := &stubExtractor{err: apperrors.ExtractionParse(nil, "garbage")}
	f := NewFallbackExtractor(primary, NewRuleExtractor())

	ext, err := f.Extract(context.Background(), card.NewOcrResult(minimalCard, nil))
	require.NoError(t, err)
	assert.Equal(t, "山田太郎", ext.Card.Name)
	assert.Equal(t, minimalCard, ext.Card.RawText)
}
