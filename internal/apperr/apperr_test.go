package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKindAndIdentity(t *testing.T) {
	t.Parallel()

	errStock := New(ErrConflict, "insufficient_stock", "not enough stock")
	wrapped := fmt.Errorf("%w: product 42", errStock)

	assert.ErrorIs(t, wrapped, errStock)
	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.NotErrorIs(t, wrapped, ErrValidation)
	assert.Equal(t, "insufficient_stock", CodeOf(wrapped))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unavailable", err: New(ErrUnavailable, "gateway_unavailable", ""), want: true},
		{name: "conflict", err: New(ErrConflict, "duplicate_payment", ""), want: false},
		{name: "not found", err: fmt.Errorf("x: %w", New(ErrNotFound, "order_not_found", "")), want: false},
		{name: "uncoded is internal", err: errors.New("connection reset"), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
