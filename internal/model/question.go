package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiSelect  QuestionType = "MULTI_SELECT"
	QuestionTypeShortAnswer  QuestionType = "SHORT_ANSWER"
)

// Question represents a single exam question, correct answer included.
type Question struct {
	ID       uuid.UUID       `json:"id"`
	ExamID   uuid.UUID       `json:"exam_id"`
	Text     string          `json:"text"`
	Type     QuestionType    `json:"type"`
	Options  json.RawMessage `json:"options,omitempty"`
	Points   float64         `json:"points"`
	Correct  Answer          `json:"correct"`
	OrderNum int             `json:"order_num"`
}

// ForStudent strips the correct answer for delivery to exam takers.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Points:   q.Points,
		Options:  q.Options,
		OrderNum: q.OrderNum,
	}
}
