package lab

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerStopsWhenDone(t *testing.T) {
	calls := 0
	err := Poller{Attempts: 5}.WaitFor(context.Background(), "vpc", func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollerTimesOut(t *testing.T) {
	calls := 0
	err := Poller{Attempts: 4, Delay: time.Millisecond}.WaitFor(context.Background(), "nat gateway", func() (bool, error) {
		calls++
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.Contains(t, err.Error(), "nat gateway after 4 attempts")
	assert.Equal(t, 4, calls)
}

func TestPollerReturnsCheckError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poller{Attempts: 10}.WaitFor(context.Background(), "instance", func() (bool, error) {
		calls++
		return false, boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestPollerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Poller{Attempts: 10, Delay: time.Hour}.WaitFor(ctx, "transit gateway", func() (bool, error) {
		calls++
		cancel()
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)

	err = Poller{Attempts: 10}.WaitFor(ctx, "transit gateway", func() (bool, error) {
		t.Fatal("check must not run on a cancelled context")
		return true, nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPollerRunsAtLeastOnce(t *testing.T) {
	calls := 0
	err := Poller{}.WaitFor(context.Background(), "listener", func() (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
