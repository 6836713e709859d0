package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity as stored.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	EntryToken      string     `json:"entry_token,omitempty"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExamDefinition is the immutable view of an exam a live session runs
// against: the exam row plus its ordered questions, correct answers
// included. Never sent to students as-is.
type ExamDefinition struct {
	Exam
	Questions []Question `json:"questions"`
}

// Duration returns the exam length as a time.Duration.
func (d *ExamDefinition) Duration() time.Duration {
	return time.Duration(d.DurationMinutes) * time.Minute
}

// QuestionByID returns the question with the given id, if it belongs
// to this exam.
func (d *ExamDefinition) QuestionByID(id uuid.UUID) (*Question, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i], true
		}
	}
	return nil, false
}

// ExamPayload is the Redis-cached payload sent to students (no correct answers).
type ExamPayload struct {
	ExamID    uuid.UUID            `json:"exam_id"`
	Title     string               `json:"title"`
	Duration  int                  `json:"duration_minutes"`
	Questions []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID       uuid.UUID       `json:"id"`
	Text     string          `json:"text"`
	Type     QuestionType    `json:"type"`
	Points   float64         `json:"points"`
	Options  json.RawMessage `json:"options,omitempty"`
	OrderNum int             `json:"order_num"`
}
