package llm

import (
	"context"
	"errors"
	"net"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return &openai.APIError{HTTPStatusCode: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentErrorStops(t *testing.T) {
	calls := 0
	permanent := &openai.APIError{HTTPStatusCode: 400}
	err := withRetry(context.Background(), "test", func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		return &openai.APIError{HTTPStatusCode: 503}
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, "test", func() error {
		return &openai.APIError{HTTPStatusCode: 500}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: 500}))
	assert.False(t, isTransient(&openai.APIError{HTTPStatusCode: 401}))
	assert.True(t, isTransient(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, isTransient(errors.New("parse failure")))
}

func TestBackoffBounded(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}
