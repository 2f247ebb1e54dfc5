package conn

import (
	"encoding/json"
	"time"
)

// FrameKind discriminates inbound data channel frames. Every inbound frame
// decodes to exactly one kind; there is no silent default branch.
type FrameKind int

const (
	// FrameStateChange announces a server-side resource change.
	FrameStateChange FrameKind = iota
	// FrameForceStateChange is a client-originated change broadcast,
	// handled identically to FrameStateChange.
	FrameForceStateChange
	// FrameChat carries an assistant chat reply.
	FrameChat
	// FrameUnknown is a structured frame whose type field is missing or
	// unrecognized.
	FrameUnknown
	// FrameRaw is a frame that is not a JSON object at all; its text is
	// treated as chat content.
	FrameRaw
)

// Frame is the decoded form of one inbound data channel frame.
type Frame struct {
	Kind      FrameKind
	Resource  string
	Action    string
	Timestamp int64
	// Content is the chat text for FrameChat and FrameRaw, and the raw
	// frame text for FrameUnknown (kept for logging).
	Content string
}

// wireFrame is the JSON envelope of structured channel traffic.
type wireFrame struct {
	Type      string `json:"type"`
	Resource  string `json:"resource,omitempty"`
	Action    string `json:"action,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Content   string `json:"content,omitempty"`
}

// DecodeFrame classifies one inbound data channel frame.
func DecodeFrame(data []byte) Frame {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{Kind: FrameRaw, Content: string(data)}
	}

	switch w.Type {
	case "state_change":
		return Frame{Kind: FrameStateChange, Resource: w.Resource, Action: w.Action, Timestamp: w.Timestamp}
	case "force_state_change":
		return Frame{Kind: FrameForceStateChange, Resource: w.Resource, Action: w.Action, Timestamp: w.Timestamp}
	case "chat_message":
		return Frame{Kind: FrameChat, Content: w.Content}
	default:
		return Frame{Kind: FrameUnknown, Content: string(data)}
	}
}

// EncodeForceStateChange builds the wire form of a client-originated change
// broadcast, sent when a local mutation succeeds so other connected clients
// refresh even if the backend does not echo a state-change event.
func EncodeForceStateChange(resource, action string) ([]byte, error) {
	return json.Marshal(wireFrame{
		Type:      "force_state_change",
		Resource:  resource,
		Action:    action,
		Timestamp: time.Now().UnixMilli(),
	})
}
