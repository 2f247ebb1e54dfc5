// Package chat holds the conversation state behind the chat screen: the
// message transcript, the connection status it mirrors, and the send path
// that lazily creates a session for the first prompt.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"taskbridge/internal/conn"
	"taskbridge/internal/log"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/sessions"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// connectFailedMsg is shown whenever the connection reaches the error
// state; transport detail goes to the log, not the user.
const connectFailedMsg = "Failed to connect to the server. Please check your internet connection."

// ErrNotConnected is returned by Send while the data channel is down.
var ErrNotConnected = errors.New("chat: not connected")

// Message is one transcript entry.
type Message struct {
	ID      string
	Role    string
	Content string
}

// Connection is the slice of the connection manager the chat service uses.
type Connection interface {
	SendMessage(text string) bool
	Status() conn.Status
	SubscribeStatus(fn func(conn.Status)) (cancel func())
	Reconnect()
}

// prompt is the application-level frame sent over the data channel.
type prompt struct {
	Prompt    string `json:"prompt"`
	SessionID int64  `json:"sessionId"`
}

// Service owns the chat transcript. All methods are safe for concurrent
// use.
type Service struct {
	connection Connection
	dir        *sessions.Directory

	mu       sync.Mutex
	messages []Message
	status   conn.Status
	connErr  string
	onUpdate func()

	cancels []func()
}

// NewService wires a chat service to the connection manager, the session
// directory, and the event bus. Call Close to detach.
func NewService(connection Connection, dir *sessions.Directory, bus *pubsub.Bus) *Service {
	s := &Service{
		connection: connection,
		dir:        dir,
		status:     connection.Status(),
	}
	s.cancels = append(s.cancels,
		connection.SubscribeStatus(s.onStatus),
		bus.Subscribe(pubsub.TopicChatMessage, s.onChatMessage),
	)
	return s
}

// Close detaches the service from its subscriptions.
func (s *Service) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

// SetOnUpdate registers a callback invoked after every transcript or
// status change, for UI refresh.
func (s *Service) SetOnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

func (s *Service) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Service) onStatus(status conn.Status) {
	s.mu.Lock()
	s.status = status
	switch status {
	case conn.StatusConnecting, conn.StatusConnected:
		s.connErr = ""
	case conn.StatusError:
		s.connErr = connectFailedMsg
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Service) onChatMessage(payload any) {
	content, ok := payload.(string)
	if !ok {
		return
	}
	s.mu.Lock()
	s.messages = append(s.messages, Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		Content: content,
	})
	s.mu.Unlock()
	s.notify()
}

// Messages returns a copy of the transcript.
func (s *Service) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Status returns the mirrored connection status.
func (s *Service) Status() conn.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ConnectionError returns the user-displayable connection failure message,
// empty while the connection is healthy.
func (s *Service) ConnectionError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

// Retry tears the connection down and rebuilds it.
func (s *Service) Retry() {
	s.mu.Lock()
	s.connErr = ""
	s.mu.Unlock()
	s.connection.Reconnect()
	s.notify()
}

// LoadHistory replaces the transcript with the current session's stored
// messages. With no session selected the transcript is cleared.
func (s *Service) LoadHistory(ctx context.Context) error {
	id := s.dir.CurrentID()
	if id == 0 {
		s.mu.Lock()
		s.messages = nil
		s.mu.Unlock()
		s.notify()
		return nil
	}

	history, err := s.dir.Messages(ctx, id)
	if err != nil {
		log.Warn(log.CatChat, "loading history failed", "session", id, "error", err)
		return err
	}

	s.mu.Lock()
	s.messages = s.messages[:0]
	for _, m := range history {
		s.messages = append(s.messages, Message{
			ID:      uuid.NewString(),
			Role:    m.Role,
			Content: m.Content,
		})
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Send transmits a prompt over the data channel, creating a session first
// when none is active. The user message is appended to the transcript
// before transmission so a failed send stays visible for retry.
func (s *Service) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if s.Status() != conn.StatusConnected {
		return ErrNotConnected
	}

	sessionID := s.dir.CurrentID()
	if sessionID == 0 {
		created, err := s.dir.Create(ctx)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		sessionID = created.ID
	}

	s.mu.Lock()
	s.messages = append(s.messages, Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: trimmed,
	})
	s.mu.Unlock()
	s.notify()

	payload, err := json.Marshal(prompt{Prompt: trimmed, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}
	if !s.connection.SendMessage(string(payload)) {
		return ErrNotConnected
	}
	log.Debug(log.CatChat, "prompt sent", "session", sessionID)
	return nil
}
