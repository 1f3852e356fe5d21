package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_NextRespectsCapAndAdvancesAttempt(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, b.Cap)
	}
	assert.Equal(t, 20, b.Attempt())
}

func TestBackoff_ResetZeroesAttempt(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	require.Equal(t, 2, b.Attempt())
	b.Reset()
	assert.Equal(t, 0, b.Attempt())
}

func TestPow(t *testing.T) {
	assert.Equal(t, 1.0, pow(2, 0))
	assert.Equal(t, 8.0, pow(2, 3))
}

func TestSleep_ReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	err := Sleep(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}
