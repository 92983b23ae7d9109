package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	t.Parallel()

	fallback := zap.NewNop()
	reqLogger := zap.NewExample()

	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.Same(t, reqLogger, FromContext(IntoContext(context.Background(), reqLogger), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
