package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannel_ReceivesEmittedPayloads(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := Channel(ctx, bus, TopicChatMessage)

	bus.Emit(TopicChatMessage, "hello")

	select {
	case payload := <-ch:
		require.Equal(t, "hello", payload)
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for payload")
	}
}

func TestChannel_ClosedOnContextCancel(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := Channel(ctx, bus, "topic")
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed")
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for close")
	}

	// Emitting after cancel must not panic.
	bus.Emit("topic", "late")
}

func TestListenCmd_ReturnsPayload(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := Channel(ctx, bus, "topic")
	bus.Emit("topic", 7)

	msg := ListenCmd(ctx, ch)()
	require.Equal(t, 7, msg)
}

func TestListenCmd_NilOnCancelledContext(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := Channel(ctx, bus, "topic")
	cancel()

	require.Eventually(t, func() bool {
		return ListenCmd(ctx, ch)() == nil
	}, time.Second, 10*time.Millisecond)
}
