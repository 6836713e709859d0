package proctor

import (
	"github.com/google/uuid"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// EventKind identifies a push event emitted by a session to its
// observer (the WebSocket stream in production).
type EventKind string

const (
	// EventWarning announces one recorded integrity warning plus the
	// running count versus the limit, for the transient overlay.
	EventWarning EventKind = "warning"
	// EventThreshold is a transient advisory at a named time mark.
	EventThreshold EventKind = "threshold"
	// EventClosed announces termination for cause; forced submission
	// follows after the grace delay.
	EventClosed EventKind = "closed"
	// EventSubmitted announces that the attempt was finalized and
	// durably recorded, with the final score.
	EventSubmitted EventKind = "submitted"
	// EventSubmitFailed announces a failed finalize call; the attempt
	// record is preserved in memory and the submission can be retried.
	EventSubmitFailed EventKind = "submit_failed"
	// EventAutosave announces an autosave status change.
	EventAutosave EventKind = "autosave"
)

// Event is one observer notification. Only the fields relevant to the
// kind are populated.
type Event struct {
	Kind             EventKind      `json:"kind"`
	Warning          *model.Warning `json:"warning,omitempty"`
	WarningCount     int            `json:"warning_count,omitempty"`
	MaxWarnings      int            `json:"max_warnings,omitempty"`
	ThresholdSeconds int            `json:"threshold_seconds,omitempty"`
	RemainingSeconds int            `json:"remaining_seconds,omitempty"`
	AutosaveStatus   SaveStatus     `json:"autosave_status,omitempty"`
	Score            float64        `json:"score,omitempty"`
	TotalPoints      float64        `json:"total_points,omitempty"`
	Reason           string         `json:"reason,omitempty"`
}

// Observer receives session events. Callbacks run without the session
// lock held, but must not block for long and must not call back into
// the session synchronously.
type Observer func(Event)

// Snapshot is the observable session state a presentation layer
// renders: timer display, warning overlay, autosave indicator and the
// navigation grid.
type Snapshot struct {
	AttemptID          uuid.UUID                  `json:"attempt_id"`
	ExamID             uuid.UUID                  `json:"exam_id"`
	Phase              model.Phase                `json:"phase"`
	RemainingSeconds   int                        `json:"remaining_seconds"`
	Warnings           []model.Warning            `json:"warnings"`
	WarningCount       int                        `json:"warning_count"`
	MaxWarnings        int                        `json:"max_warnings"`
	AutosaveStatus     SaveStatus                 `json:"autosave_status"`
	Answers            map[uuid.UUID]model.Answer `json:"answers"`
	Flagged            []uuid.UUID                `json:"flagged"`
	TerminatedForCause bool                       `json:"terminated_for_cause"`
	Score              *float64                   `json:"score,omitempty"`
}
