// Package todos maintains a read-through cache of the backend's todo
// lists. The cache follows a full re-fetch invalidation policy: every
// successful mutation and every inbound change signal replaces the whole
// collection rather than patching it incrementally. After a local mutation
// the directory additionally broadcasts a force_state_change frame over
// the data channel so other connected clients refresh even when the
// backend does not echo the change.
package todos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"taskbridge/internal/conn"
	"taskbridge/internal/log"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/rest"
)

// TodoItem is one entry of a todo list.
type TodoItem struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	ListID    int64  `json:"list_id"`
}

// TodoListStats are the server-derived completion counters of a list.
type TodoListStats struct {
	TotalItems         int     `json:"total_items"`
	CompletedItems     int     `json:"completed_items"`
	PercentageComplete float64 `json:"percentage_complete"`
}

// TodoList is one list with its items and derived stats.
type TodoList struct {
	ID    int64         `json:"id"`
	Title string        `json:"title"`
	Items []TodoItem    `json:"items"`
	Stats TodoListStats `json:"stats"`
}

// Broadcaster pushes a raw frame to other connected clients. Satisfied by
// the connection manager; nil-safe fakes suffice in tests.
type Broadcaster interface {
	SendMessage(text string) bool
}

// Directory is the todo collection cache. All methods are safe for
// concurrent use.
type Directory struct {
	client    *rest.Client
	bus       *pubsub.Bus
	broadcast Broadcaster

	mu      sync.Mutex
	lists   []TodoList
	loading bool
	lastErr string

	cancelBus func()
}

// NewDirectory creates a directory backed by client. broadcast may be nil
// when no realtime channel is available; local emissions still happen.
func NewDirectory(client *rest.Client, bus *pubsub.Bus, broadcast Broadcaster) *Directory {
	d := &Directory{
		client:    client,
		bus:       bus,
		broadcast: broadcast,
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
	// A change with no resource named is a generic "something changed"
	// notification; treat it as a todos change.
	if change.Resource != "" && change.Resource != pubsub.ResourceTodos {
		return
	}
	// Skip our own local emissions; the cache was already re-fetched
	// before they went out.
	if change.Action == pubsub.ActionLocalMutation {
		return
	}
	log.Debug(log.CatConn, "todos changed, refetching")
	if err := d.Refresh(context.Background()); err != nil {
		log.Warn(log.CatREST, "todo refresh after state change failed", "error", err)
	}
}

// Lists returns a copy of the cached collection.
func (d *Directory) Lists() []TodoList {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TodoList, len(d.lists))
	copy(out, d.lists)
	return out
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

// Refresh replaces the whole cached collection from the backend.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	var fetched []TodoList
	err := d.client.Do(ctx, http.MethodGet, "/lists/", nil, &fetched)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	if err != nil {
		d.lastErr = displayable(err, "Failed to fetch todo lists")
		return err
	}
	d.lastErr = ""
	d.lists = fetched
	return nil
}

// CreateList creates a list, re-fetches, and announces the change.
func (d *Directory) CreateList(ctx context.Context, title string) (TodoList, error) {
	var created TodoList
	body := map[string]string{"title": title}
	if err := d.client.Do(ctx, http.MethodPost, "/lists/", body, &created); err != nil {
		d.setError(err, "Failed to create list")
		return TodoList{}, err
	}
	d.afterMutation(ctx, "list created")
	return created, nil
}

// RenameList changes a list's title.
func (d *Directory) RenameList(ctx context.Context, listID int64, title string) error {
	body := map[string]string{"title": title}
	if err := d.client.Do(ctx, http.MethodPut, fmt.Sprintf("/lists/%d", listID), body, nil); err != nil {
		d.setError(err, "Failed to rename list")
		return err
	}
	d.afterMutation(ctx, "list renamed")
	return nil
}

// DeleteList removes a list and all its items.
func (d *Directory) DeleteList(ctx context.Context, listID int64) error {
	if err := d.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/lists/%d", listID), nil, nil); err != nil {
		d.setError(err, "Failed to delete list")
		return err
	}
	d.afterMutation(ctx, "list deleted")
	return nil
}

// CreateItem appends a new incomplete item to a list.
func (d *Directory) CreateItem(ctx context.Context, listID int64, title string) (TodoItem, error) {
	var created TodoItem
	body := map[string]string{"title": title}
	if err := d.client.Do(ctx, http.MethodPost, fmt.Sprintf("/lists/%d/items/", listID), body, &created); err != nil {
		d.setError(err, "Failed to create item")
		return TodoItem{}, err
	}
	d.afterMutation(ctx, "item created")
	return created, nil
}

// SetItemCompletion toggles an item's completed flag.
func (d *Directory) SetItemCompletion(ctx context.Context, listID, itemID int64, completed bool) error {
	body := map[string]bool{"completed": completed}
	if err := d.client.Do(ctx, http.MethodPut, fmt.Sprintf("/lists/%d/items/%d", listID, itemID), body, nil); err != nil {
		d.setError(err, "Failed to update item")
		return err
	}
	d.afterMutation(ctx, "item updated")
	return nil
}

// DeleteItem removes an item from its list.
func (d *Directory) DeleteItem(ctx context.Context, listID, itemID int64) error {
	if err := d.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/lists/%d/items/%d", listID, itemID), nil, nil); err != nil {
		d.setError(err, "Failed to delete item")
		return err
	}
	d.afterMutation(ctx, "item deleted")
	return nil
}

func (d *Directory) setError(err error, fallback string) {
	d.mu.Lock()
	d.lastErr = displayable(err, fallback)
	d.mu.Unlock()
}

// afterMutation runs the post-mutation protocol: re-fetch the collection,
// notify local subscribers, and broadcast to other clients over the data
// channel.
func (d *Directory) afterMutation(ctx context.Context, action string) {
	if err := d.Refresh(ctx); err != nil {
		log.Warn(log.CatREST, "refresh after mutation failed", "action", action, "error", err)
	}

	d.bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{
		Resource: pubsub.ResourceTodos,
		Action:   pubsub.ActionLocalMutation,
	})

	if d.broadcast == nil {
		return
	}
	frame, err := conn.EncodeForceStateChange(pubsub.ResourceTodos, action)
	if err != nil {
		log.Warn(log.CatConn, "encoding change broadcast failed", "error", err)
		return
	}
	if !d.broadcast.SendMessage(string(frame)) {
		log.Debug(log.CatConn, "change broadcast skipped, channel not open")
	}
}

func displayable(err error, fallback string) string {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
