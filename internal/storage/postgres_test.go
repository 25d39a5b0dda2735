package storage

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil, "x"))

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"serialization", &pq.Error{Code: "40001"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"syntax", &pq.Error{Code: "42601"}, false},
		{"conn done", sql.ErrConnDone, true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "insert card")
			assert.True(t, apperrors.IsCode(err, apperrors.StoreFailed))
			assert.Equal(t, tt.retryable, resilience.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, classify(context.Canceled, "x"))
	assert.ErrorIs(t, classify(context.DeadlineExceeded, "x"), context.DeadlineExceeded)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%山田%", likePattern("山田"))
	assert.Equal(t, `%100\%\_off\\%`, likePattern(`100%_off\`))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, DefaultListLimit, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxListLimit, clampLimit(10_000))
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.True(t, apperrors.IsCode(err, apperrors.ConfigMissing))
}
