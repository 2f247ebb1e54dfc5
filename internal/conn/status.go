package conn

import "sync"

// Status is the connection lifecycle state, owned exclusively by the
// Manager and mutated only through its internal transition logic.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// statusRegistry fans a status change out to any number of subscribers in
// registration order. It mirrors the event bus shape so UI consumers don't
// need to layer their own broadcast on top of a single callback slot.
type statusRegistry struct {
	mu   sync.Mutex
	subs []*statusSub
}

type statusSub struct {
	fn func(Status)
}

func (r *statusRegistry) subscribe(fn func(Status)) (cancel func()) {
	sub := &statusSub{fn: fn}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range r.subs {
				if s == sub {
					r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *statusRegistry) notify(status Status) {
	r.mu.Lock()
	subs := make([]*statusSub, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.fn(status)
	}
}
