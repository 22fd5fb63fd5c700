package errorc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderClassification(t *testing.T) {
	b := NewBuilder("runner")
	err := b.Transient("bulk write overloaded", errors.New("429"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, CodeTransient))
	assert.False(t, errors.Is(err, CodeFatal))
	assert.Equal(t, "runner", err.Entry)
	assert.NotZero(t, err.Line)
}

func TestAsRecoversThroughWrapping(t *testing.T) {
	b := NewBuilder("store")
	inner := b.NotFound("monitor missing", nil)
	wrapped := errors.Join(errors.New("context"), inner)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, got.Code)
}

func TestKindOfDefaultsToFatal(t *testing.T) {
	assert.Equal(t, Fatal, KindOf(errors.New("boom")))
}

func TestKindOfCancelled(t *testing.T) {
	assert.Equal(t, Cancelled, KindOf(context.Canceled))
}

func TestBuilderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBuilder("runner")
	err := b.Cancelled(ctx)
	assert.True(t, errors.Is(err, CodeCancelled))
}
