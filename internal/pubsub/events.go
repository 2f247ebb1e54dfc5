package pubsub

// Topic names used across the application.
const (
	// TopicStateChange announces that a server-side resource changed and
	// should be refetched. Payload: StateChange.
	TopicStateChange = "state_change"

	// TopicChatMessage carries an assistant reply. Payload: string.
	TopicChatMessage = "chat_message"

	// TopicLog streams structured log entries to in-app consumers.
	// Payload: string (the formatted entry).
	TopicLog = "log"
)

// Resource names carried by StateChange events.
const (
	ResourceTodos    = "todos"
	ResourceSessions = "sessions"
)

// ActionLocalMutation marks a StateChange emitted by a directory after one
// of its own mutations. The emitting directory's cache is already current,
// so directories skip these to avoid refetching what they just wrote.
const ActionLocalMutation = "local_mutation"

// StateChange is the payload published under TopicStateChange. Resource
// names what changed; Action and Timestamp are optional detail carried
// through from the wire frame that triggered the event.
type StateChange struct {
	Resource  string
	Action    string
	Timestamp int64
}
