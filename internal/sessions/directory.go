// Package sessions manages the logical conversation sessions the assistant
// backend keeps per user: a cached collection fetched over REST, the
// client-local "current session" selection persisted across restarts, and
// a bus subscription that keeps the cache fresh when the realtime channel
// announces server-side changes.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"taskbridge/internal/log"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/rest"
	"taskbridge/internal/store"
)

// currentIDKey is the persistent store key holding the active session id.
const currentIDKey = "currentSessionId"

// Session is one conversation session as the backend reports it.
type Session struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Message is one entry of a session's chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Directory is the session collection cache. All methods are safe for
// concurrent use.
type Directory struct {
	client *rest.Client
	store  *store.Store
	bus    *pubsub.Bus
	userID int64

	mu       sync.Mutex
	sessions []Session
	current  int64
	loading  bool
	lastErr  string

	cancelBus func()
}

// NewDirectory creates a directory for userID backed by client and st. The
// persisted current-session id is loaded immediately; it is repaired
// against the live collection on the first Refresh.
func NewDirectory(client *rest.Client, st *store.Store, bus *pubsub.Bus, userID int64) *Directory {
	d := &Directory{
		client: client,
		store:  st,
		bus:    bus,
		userID: userID,
	}

	id, ok, err := store.Get[int64](st, currentIDKey)
	if err != nil {
		log.Warn(log.CatStore, "reading persisted session id failed", "error", err)
	} else if ok {
		d.current = id
	}

	d.cancelBus = bus.Subscribe(pubsub.TopicStateChange, d.onStateChange)
	return d
}

// Close detaches the directory from the event bus.
func (d *Directory) Close() {
	if d.cancelBus != nil {
		d.cancelBus()
	}
}

func (d *Directory) onStateChange(payload any) {
	change, ok := payload.(pubsub.StateChange)
	if !ok {
		return
	}
	// Any channel-delivered change can touch the session list (session
	// titles update as the assistant works), so there is no resource
	// filter here. Only this client's own mutation emissions are skipped;
	// their cache updates already happened.
	if change.Action == pubsub.ActionLocalMutation {
		return
	}
	log.Debug(log.CatConn, "sessions changed, refetching")
	if err := d.Refresh(context.Background()); err != nil {
		log.Warn(log.CatREST, "session refresh after state change failed", "error", err)
	}
}

// Sessions returns a copy of the cached collection, most recent first.
func (d *Directory) Sessions() []Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// CurrentID returns the active session id, or 0 when no session is active.
func (d *Directory) CurrentID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Loading reports whether a collection fetch is in flight.
func (d *Directory) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

// LastError returns the user-displayable message of the most recent failed
// operation, cleared on the next success.
func (d *Directory) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// SetCurrent selects a session. The id must be present in the cached
// collection or zero (no session).
func (d *Directory) SetCurrent(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id != 0 && !containsID(d.sessions, id) {
		return fmt.Errorf("unknown session id %d", id)
	}
	d.setCurrentLocked(id)
	return nil
}

// setCurrentLocked updates and persists the active id. Callers hold d.mu.
func (d *Directory) setCurrentLocked(id int64) {
	if d.current == id {
		return
	}
	d.current = id
	if err := store.Set(d.store, currentIDKey, id); err != nil {
		log.Warn(log.CatStore, "persisting session id failed", "error", err)
	}
}

// Refresh fetches the full collection and repairs the current-session id:
// an id missing from the fresh collection falls back to the first (most
// recent) session, or to none when the collection is empty.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	var fetched []Session
	err := d.client.Do(ctx, http.MethodGet, fmt.Sprintf("/ai/sessions/user/%d", d.userID), nil, &fetched)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	if err != nil {
		d.lastErr = displayable(err, "Failed to fetch sessions")
		return err
	}
	d.lastErr = ""

	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].UpdatedAt > fetched[j].UpdatedAt
	})
	d.sessions = fetched

	if d.current != 0 && containsID(fetched, d.current) {
		return nil
	}
	if len(fetched) > 0 {
		d.setCurrentLocked(fetched[0].ID)
	} else {
		d.setCurrentLocked(0)
	}
	return nil
}

// Create asks the backend for a fresh session, prepends it to the cache,
// and makes it current.
func (d *Directory) Create(ctx context.Context) (Session, error) {
	var created Session
	err := d.client.Do(ctx, http.MethodPost, fmt.Sprintf("/ai/sessions/user/%d", d.userID), nil, &created)
	if err != nil {
		d.mu.Lock()
		d.lastErr = displayable(err, "Failed to create session")
		d.mu.Unlock()
		return Session{}, err
	}

	d.mu.Lock()
	d.lastErr = ""
	d.sessions = append([]Session{created}, d.sessions...)
	d.setCurrentLocked(created.ID)
	d.mu.Unlock()

	log.Info(log.CatREST, "session created", "id", created.ID)
	d.bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{
		Resource: pubsub.ResourceSessions,
		Action:   pubsub.ActionLocalMutation,
	})
	return created, nil
}

// Delete removes a session. When the deleted session was current, the first
// remaining session becomes current, or none when the collection is empty.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	err := d.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/ai/sessions/%d", id), nil, nil)
	if err != nil {
		d.mu.Lock()
		d.lastErr = displayable(err, "Failed to delete session")
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.lastErr = ""
	kept := d.sessions[:0]
	for _, s := range d.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	d.sessions = kept
	if d.current == id {
		if len(kept) > 0 {
			d.setCurrentLocked(kept[0].ID)
		} else {
			d.setCurrentLocked(0)
		}
	}
	d.mu.Unlock()

	log.Info(log.CatREST, "session deleted", "id", id)
	d.bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{
		Resource: pubsub.ResourceSessions,
		Action:   pubsub.ActionLocalMutation,
	})
	return nil
}

// Messages fetches a session's chat history.
func (d *Directory) Messages(ctx context.Context, id int64) ([]Message, error) {
	var history []Message
	err := d.client.Do(ctx, http.MethodGet, fmt.Sprintf("/ai/sessions/%d/messages", id), nil, &history)
	if err != nil {
		return nil, err
	}
	return history, nil
}

func containsID(sessions []Session, id int64) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

// displayable extracts a user-facing message, falling back when the error
// carries no backend detail.
func displayable(err error, fallback string) string {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
