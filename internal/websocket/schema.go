package websocket

import (
	"github.com/sentineledu/sentinel-backend/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionFlag   Action = "flag"
	ActionSignal Action = "signal"
	ActionSubmit Action = "submit"
	ActionRetry  Action = "retry_submit"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// RequestPayload carries every client action; only the fields relevant
// to the action are populated.
type RequestPayload struct {
	Action     Action   `json:"action"`
	QID        string   `json:"q_id,omitempty"`
	Value      string   `json:"value,omitempty"`
	Selections []string `json:"selections,omitempty"`

	// Signal fields.
	Kind   string `json:"kind,omitempty"`
	Key    string `json:"key,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventFlagged  Event = "flagged"
	EventSignal   Event = "signal"
	EventSnapshot Event = "snapshot"
	EventSession  Event = "session"
	EventPong     Event = "pong"
)

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type FlaggedResponse struct {
	Event   Event  `json:"event"`
	QID     string `json:"q_id"`
	Flagged bool   `json:"flagged"`
}

// SignalResponse acknowledges a reported integrity signal and tells
// the client whether the default action should have been suppressed.
type SignalResponse struct {
	Event    Event  `json:"event"`
	Recorded bool   `json:"recorded"`
	Prevent  bool   `json:"prevent"`
	Kind     string `json:"kind,omitempty"`
}

// SnapshotResponse pushes the full observable session state, sent on
// connect and whenever the client asks for it.
type SnapshotResponse struct {
	Event    Event             `json:"event"`
	Snapshot *proctor.Snapshot `json:"snapshot"`
}

// SessionEvent relays a live session event (warning, threshold
// advisory, closure, submission outcome, autosave status).
type SessionEvent struct {
	Event   Event         `json:"event"`
	Payload proctor.Event `json:"payload"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
