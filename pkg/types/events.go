package types

import "encoding/json"

// Client -> server event types.
const (
	EventJoinSession   = "join-session"
	EventHighlight     = "highlight"
	EventChangePassage = "change-passage"
	EventLeaveSession  = "leave-session"
	EventEndSession    = "end-session"
	EventCameraState   = "camera-state"
	EventPing          = "ping"
)

// Server -> client event types. camera-state is relayed under its inbound name.
const (
	EventSessionSnapshot  = "session-snapshot"
	EventHighlightApplied = "highlight-applied"
	EventPassageChanged   = "passage-changed"
	EventPresence         = "presence"
	EventError            = "error"
	EventSessionEnded     = "session-ended"
	EventPong             = "pong"
)

// Envelope is an inbound frame before its payload is decoded.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is implemented by every decoded client payload.
type Inbound interface {
	EventType() string
	TargetSession() string
}

// IsMutating reports whether an inbound event type changes session state and
// therefore requires teacher authorization.
func IsMutating(eventType string) bool {
	switch eventType {
	case EventHighlight, EventChangePassage, EventEndSession, EventCameraState:
		return true
	}
	return false
}

type JoinSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required,session_id"`
}

func (p JoinSessionPayload) EventType() string     { return EventJoinSession }
func (p JoinSessionPayload) TargetSession() string { return p.SessionID }

// HighlightPayload is the client's highlight request. Any author id the
// client sends is ignored; the author is the verified submitter.
type HighlightPayload struct {
	SessionID string `json:"sessionId" validate:"required,session_id"`
	Text      string `json:"text" validate:"required,max=500"`
	Color     string `json:"color" validate:"required,palette"`
	Start     int    `json:"start" validate:"min=0"`
	End       int    `json:"end" validate:"min=0,gtefield=Start"`
}

func (p HighlightPayload) EventType() string     { return EventHighlight }
func (p HighlightPayload) TargetSession() string { return p.SessionID }

// ChangePassagePayload replaces the passage. When Verses is empty the
// gateway resolves them from the passage provider before submission.
type ChangePassagePayload struct {
	SessionID string  `json:"sessionId" validate:"required,session_id"`
	Reference string  `json:"reference" validate:"required,max=100"`
	Verses    []Verse `json:"verses,omitempty" validate:"max=200,dive"`
}

func (p ChangePassagePayload) EventType() string     { return EventChangePassage }
func (p ChangePassagePayload) TargetSession() string { return p.SessionID }

type EndSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required,session_id"`
}

func (p EndSessionPayload) EventType() string     { return EventEndSession }
func (p EndSessionPayload) TargetSession() string { return p.SessionID }

type CameraStatePayload struct {
	SessionID string `json:"sessionId" validate:"required,session_id"`
	Active    bool   `json:"active"`
}

func (p CameraStatePayload) EventType() string     { return EventCameraState }
func (p CameraStatePayload) TargetSession() string { return p.SessionID }

// SnapshotPayload is the full room state sent once to a joining connection.
type SnapshotPayload struct {
	SessionID     string      `json:"sessionId"`
	TeacherUserID string      `json:"teacherUserId"`
	Passage       Passage     `json:"passage"`
	HighlightLog  []Highlight `json:"highlightLog"`
	Count         int         `json:"count"`
	CameraActive  bool        `json:"cameraActive"`
}

type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

// NewErrorEvent builds the error frame returned to a single submitter.
func NewErrorEvent(err error) Event {
	return Event{
		Type: EventError,
		Data: ErrorPayload{Kind: KindOf(err), Message: err.Error()},
	}
}
