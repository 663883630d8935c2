package grpcweb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnceValueResolveThenWait(t *testing.T) {
	p := newOnceValue[int]()
	require.False(t, p.isResolved())

	p.resolve(7)
	p.resolve(8) // second resolve is a no-op

	v, err := p.wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.True(t, p.isResolved())
}

func TestOnceValueWaitBlocksUntilResolved(t *testing.T) {
	p := newOnceValue[string]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := p.wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, "hi", v)
	}()

	time.Sleep(10 * time.Millisecond)
	p.resolve("hi")
	<-done
}

func TestOnceValueWaitCancelled(t *testing.T) {
	p := newOnceValue[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
