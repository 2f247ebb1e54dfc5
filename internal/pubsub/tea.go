package pubsub

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

const channelBuffer = 64

// Channel bridges a topic subscription into a channel for consumers that
// poll rather than take callbacks (the Bubble Tea update loop). The
// subscription is removed and the channel closed when ctx is cancelled.
// Non-blocking: payloads are dropped if the consumer falls behind.
func Channel(ctx context.Context, bus *Bus, topic string) <-chan any {
	ch := make(chan any, channelBuffer)

	// An Emit in flight may still hold a snapshot of the subscription after
	// cancel returns, so sends and close are serialized through mu.
	var mu sync.Mutex
	closed := false

	cancel := bus.Subscribe(topic, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- payload:
		default:
		}
	})

	go func() {
		<-ctx.Done()
		cancel()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}

// ListenCmd creates a Bubble Tea command that waits for the next payload on
// a bridged channel. Returns nil when the context is cancelled or the
// channel is closed.
func ListenCmd(ctx context.Context, ch <-chan any) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			return payload
		}
	}
}
