package tracing

// Span attribute keys for connection tracing.
const (
	// Negotiation attributes
	AttrSignalURL = "signal.url"
	AttrAttemptID = "attempt.id"
	AttrStatus    = "connection.status"

	// Conference attributes
	AttrRoomID = "room.id"
	AttrUserID = "user.id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorStage   = "error.stage"
)

// Span names for the connection core.
const (
	SpanConnect        = "conn.connect"
	SpanConferenceJoin = "conference.join"
)
