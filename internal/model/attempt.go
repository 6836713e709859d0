package model

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the top-level lifecycle state of an exam attempt.
// CLOSED and SUBMITTED are both terminal: once either is reached the
// answer set is read-only and the attempt can only be finalized.
type Phase string

const (
	PhaseActive    Phase = "ACTIVE"
	PhaseClosed    Phase = "CLOSED"    // terminated for cause (warning limit)
	PhaseSubmitted Phase = "SUBMITTED" // finalized normally or via auto-submit
)

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseSubmitted
}

// Answer is a student's response to one question: a single value for
// single-choice and short-answer questions, or a selection set for
// multi-select. Writing an Answer replaces the previous one wholesale;
// selection sets are never merged.
type Answer struct {
	Value      string   `json:"value,omitempty"`
	Selections []string `json:"selections,omitempty"`
}

// IsZero reports whether the answer carries no response at all.
func (a Answer) IsZero() bool {
	return a.Value == "" && len(a.Selections) == 0
}

// Clone returns a copy that shares no memory with the receiver.
func (a Answer) Clone() Answer {
	c := Answer{Value: a.Value}
	if a.Selections != nil {
		c.Selections = append([]string(nil), a.Selections...)
	}
	return c
}

// WarningKind is the closed set of recognized integrity violations.
type WarningKind string

const (
	WarningTabSwitch        WarningKind = "TAB_SWITCH"
	WarningCopyAttempt      WarningKind = "COPY_ATTEMPT"
	WarningPasteAttempt     WarningKind = "PASTE_ATTEMPT"
	WarningContextMenu      WarningKind = "CONTEXT_MENU"
	WarningBlockedKey       WarningKind = "BLOCKED_KEY"
	WarningBlockedShortcut  WarningKind = "BLOCKED_SHORTCUT"
	WarningPageLeaveAttempt WarningKind = "PAGE_LEAVE_ATTEMPT"
	WarningWindowResize     WarningKind = "WINDOW_RESIZE"
	WarningFocusLost        WarningKind = "FOCUS_LOST"
)

// Warning is one recorded integrity violation. Warnings form an
// append-only sequence per attempt; they are never mutated or removed.
type Warning struct {
	Kind       WarningKind `json:"kind"`
	Message    string      `json:"message"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Attempt is the durable attempt row.
type Attempt struct {
	ID                 uuid.UUID  `json:"id"`
	ExamID             uuid.UUID  `json:"exam_id"`
	StudentID          int        `json:"student_id"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	Phase              Phase      `json:"phase"`
	Score              *float64   `json:"score,omitempty"`
	WarningCount       int        `json:"warning_count"`
	TerminatedForCause bool       `json:"terminated_for_cause"`
}

// AttemptRecord is the immutable value handed to persistence exactly
// once when an attempt is finalized. It is assembled from in-memory
// session state; it does not depend on any autosave having succeeded.
type AttemptRecord struct {
	AttemptID          uuid.UUID            `json:"attempt_id"`
	ExamID             uuid.UUID            `json:"exam_id"`
	StudentID          int                  `json:"student_id"`
	Answers            map[uuid.UUID]Answer `json:"answers"`
	StartedAt          time.Time            `json:"started_at"`
	EndedAt            time.Time            `json:"ended_at"`
	Score              float64              `json:"score"`
	Warnings           []Warning            `json:"warnings"`
	TerminatedForCause bool                 `json:"terminated_for_cause"`
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	EntryToken string `json:"entry_token" binding:"required,min=4,max=20"`
}

// SubmitAnswerRequest is the REST payload for writing one answer.
type SubmitAnswerRequest struct {
	QuestionID string   `json:"question_id" binding:"required,uuid"`
	Value      string   `json:"value" binding:"omitempty,max=10000"`
	Selections []string `json:"selections" binding:"omitempty,max=32,dive,max=64"`
}
