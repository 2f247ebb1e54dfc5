package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/pubsub"
	"taskbridge/internal/rest"
	"taskbridge/internal/store"
)

// sessionServer is a minimal in-memory backend for the session endpoints.
type sessionServer struct {
	mu       sync.Mutex
	sessions []Session
	nextID   int64
	fetches  int
}

func (s *sessionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ai/sessions/user/{userID}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fetches++
		_ = json.NewEncoder(w).Encode(s.sessions)
	})
	mux.HandleFunc("POST /ai/sessions/user/{userID}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID++
		created := Session{ID: s.nextID, Title: "New Chat"}
		s.sessions = append([]Session{created}, s.sessions...)
		_ = json.NewEncoder(w).Encode(created)
	})
	mux.HandleFunc("DELETE /ai/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		kept := s.sessions[:0]
		for _, sess := range s.sessions {
			if r.PathValue("id") != strconv.FormatInt(sess.ID, 10) {
				kept = append(kept, sess)
			}
		}
		s.sessions = kept
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *sessionServer) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func newTestDirectory(t *testing.T, srv *sessionServer) (*Directory, *store.Store, *pubsub.Bus) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	st := store.New(filepath.Join(t.TempDir(), "state.json"))
	bus := pubsub.New()
	d := NewDirectory(rest.NewClient(ts.URL), st, bus, 1)
	t.Cleanup(d.Close)
	return d, st, bus
}

func TestRefreshAdoptsFirstSessionWhenNoneSelected(t *testing.T) {
	srv := &sessionServer{sessions: []Session{{ID: 7, UpdatedAt: "2026-02-02"}, {ID: 3, UpdatedAt: "2026-01-01"}}, nextID: 7}
	d, _, _ := newTestDirectory(t, srv)

	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, int64(7), d.CurrentID())
	require.Len(t, d.Sessions(), 2)
	require.False(t, d.Loading())
}

func TestRefreshRepairsStaleCurrentID(t *testing.T) {
	srv := &sessionServer{sessions: []Session{{ID: 3, UpdatedAt: "2026-02-02"}}, nextID: 3}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	// Simulate a persisted id whose session was deleted elsewhere.
	st := store.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, store.Set(st, currentIDKey, int64(99)))

	d := NewDirectory(rest.NewClient(ts.URL), st, pubsub.New(), 1)
	t.Cleanup(d.Close)
	require.Equal(t, int64(99), d.CurrentID())

	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, int64(3), d.CurrentID())
}

func TestRefreshClearsCurrentIDWhenEmpty(t *testing.T) {
	srv := &sessionServer{}
	d, st, _ := newTestDirectory(t, srv)
	require.NoError(t, store.Set(st, currentIDKey, int64(5)))

	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, int64(0), d.CurrentID())
}

func TestCreateMakesNewSessionCurrent(t *testing.T) {
	srv := &sessionServer{}
	d, st, bus := newTestDirectory(t, srv)

	var changes []pubsub.StateChange
	bus.Subscribe(pubsub.TopicStateChange, func(payload any) {
		changes = append(changes, payload.(pubsub.StateChange))
	})

	created, err := d.Create(context.Background())
	require.NoError(t, err)
	require.Equal(t, created.ID, d.CurrentID())
	require.Equal(t, created.ID, d.Sessions()[0].ID)

	persisted, ok, err := store.Get[int64](st, currentIDKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created.ID, persisted)

	require.Equal(t, []pubsub.StateChange{{Resource: pubsub.ResourceSessions, Action: pubsub.ActionLocalMutation}}, changes)
}

func TestDeleteActiveSessionFallsBackToFirstRemaining(t *testing.T) {
	srv := &sessionServer{
		sessions: []Session{
			{ID: 3, UpdatedAt: "2026-03-03"},
			{ID: 5, UpdatedAt: "2026-02-02"},
			{ID: 7, UpdatedAt: "2026-01-01"},
		},
		nextID: 7,
	}
	d, _, _ := newTestDirectory(t, srv)
	require.NoError(t, d.Refresh(context.Background()))
	require.NoError(t, d.SetCurrent(5))

	require.NoError(t, d.Delete(context.Background(), 5))
	require.Equal(t, int64(3), d.CurrentID())

	require.NoError(t, d.Delete(context.Background(), 3))
	require.Equal(t, int64(7), d.CurrentID())

	require.NoError(t, d.Delete(context.Background(), 7))
	require.Equal(t, int64(0), d.CurrentID())
	require.Empty(t, d.Sessions())
}

func TestDeleteInactiveSessionKeepsCurrent(t *testing.T) {
	srv := &sessionServer{
		sessions: []Session{{ID: 2, UpdatedAt: "2026-02-02"}, {ID: 1, UpdatedAt: "2026-01-01"}},
		nextID:   2,
	}
	d, _, _ := newTestDirectory(t, srv)
	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, int64(2), d.CurrentID())

	require.NoError(t, d.Delete(context.Background(), 1))
	require.Equal(t, int64(2), d.CurrentID())
}

func TestSetCurrentRejectsUnknownID(t *testing.T) {
	srv := &sessionServer{sessions: []Session{{ID: 1}}, nextID: 1}
	d, _, _ := newTestDirectory(t, srv)
	require.NoError(t, d.Refresh(context.Background()))

	require.Error(t, d.SetCurrent(42))
	require.NoError(t, d.SetCurrent(0))
}

func TestStateChangeSignalTriggersRefetch(t *testing.T) {
	srv := &sessionServer{sessions: []Session{{ID: 1}}, nextID: 1}
	d, _, bus := newTestDirectory(t, srv)
	require.NoError(t, d.Refresh(context.Background()))
	before := srv.fetchCount()

	bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{Resource: pubsub.ResourceSessions})
	require.Equal(t, before+1, srv.fetchCount())

	// Session titles can change as a side effect of any server-side
	// activity, so changes to other resources refetch too.
	bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{Resource: pubsub.ResourceTodos})
	require.Equal(t, before+2, srv.fetchCount())

	// As does a generic change frame naming no resource at all.
	bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{})
	require.Equal(t, before+3, srv.fetchCount())
}

func TestOwnMutationEmissionDoesNotRefetch(t *testing.T) {
	srv := &sessionServer{}
	d, _, _ := newTestDirectory(t, srv)
	before := srv.fetchCount()

	_, err := d.Create(context.Background())
	require.NoError(t, err)

	// Create emits a state change; the directory must not answer its own
	// emission with a collection fetch.
	require.Equal(t, before, srv.fetchCount())
}

func TestRefreshFailureSetsDisplayableError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "database unavailable"})
	}))
	t.Cleanup(ts.Close)

	st := store.New(filepath.Join(t.TempDir(), "state.json"))
	d := NewDirectory(rest.NewClient(ts.URL), st, pubsub.New(), 1)
	t.Cleanup(d.Close)

	require.Error(t, d.Refresh(context.Background()))
	require.Equal(t, "database unavailable", d.LastError())
}
