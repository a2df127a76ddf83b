package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContextFallsBackToGlobal(t *testing.T) {
	assert.Same(t, zap.L(), FromContext(context.Background()))
}

func TestContextWithLogger(t *testing.T) {
	l := zap.NewNop()
	ctx := ContextWithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	// nil loggers are ignored
	ctx = ContextWithLogger(ctx, nil)
	assert.Same(t, l, FromContext(ctx))
}

func TestFromContextOr(t *testing.T) {
	fallback := zap.NewNop()
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.Same(t, zap.L(), FromContextOr(context.Background(), nil))

	l := zap.NewNop()
	assert.Same(t, l, FromContextOr(ContextWithLogger(context.Background(), l), fallback))
}
