package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorString(t *testing.T) {
	err := Wrap(stderrors.New("boom"), OCRFailed, "detect text").WithMetadata("provider", "vision")
	assert.Equal(t, "[OCR_FAILED] detect text map[provider:vision] caused by: boom", err.Error())
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := ExtractionParse(stderrors.New("bad json"), "parse response")
	outer := fmt.Errorf("extract: %w", inner)

	assert.True(t, IsCode(outer, ExtractParse))
	assert.False(t, IsCode(outer, ExtractService))
	assert.True(t, IsExtractionFailure(outer))
	assert.Equal(t, ExtractParse, CodeOf(outer))
	assert.Equal(t, Unknown, CodeOf(stderrors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", New(Unavailable, "down"), true},
		{"service", ExtractionService(nil, "503"), true},
		{"parse", ExtractionParse(nil, "garbage"), false},
		{"invalid", New(InvalidArgument, "bad"), false},
		{"store transient", Wrap(New(Timeout, "slow"), StoreFailed, "save"), true},
		{"store permanent", Wrap(stderrors.New("constraint"), StoreFailed, "save"), false},
		{"plain", stderrors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	err := New(OCRInvalidImage, "empty image")
	assert.Equal(t, codes.InvalidArgument, err.GRPCCode())

	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	back := FromGRPCError(status.Error(codes.Unavailable, "ocr down"))
	assert.Equal(t, Unavailable, back.Code)
	assert.Equal(t, "ocr down", back.Message)

	assert.Same(t, err, FromGRPCError(err))
	assert.Nil(t, FromGRPCError(nil))
	assert.Equal(t, Unknown, FromGRPCError(stderrors.New("x")).Code)
}
