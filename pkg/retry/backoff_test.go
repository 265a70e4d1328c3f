package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantBackoff(t *testing.T) {
	b := NewConstantBackoff(5*time.Millisecond, 3)

	delay, ok := b.NextDelay(0)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, delay)

	_, ok = b.NextDelay(3)
	assert.False(t, ok)
}

func TestConstantBackoff_Reset(t *testing.T) {
	b := NewConstantBackoff(5*time.Millisecond, 1)
	_, ok := b.NextDelay(1)
	assert.False(t, ok)

	b.Reset()
	delay, ok := b.NextDelay(0)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, delay)
}

func TestRetry_SucceedsEventually(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), NewConstantBackoff(time.Millisecond, 5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_GivesUp(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), NewConstantBackoff(time.Millisecond, 2), func() error {
		attempts++
		return errors.New("always fails")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, NewConstantBackoff(time.Second, 5), func() error {
		return errors.New("fails")
	})

	assert.Error(t, err)
}
