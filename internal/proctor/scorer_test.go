package proctor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

func singleChoice(points float64, correct string) model.Question {
	return model.Question{
		ID:      uuid.New(),
		Type:    model.QuestionTypeSingleChoice,
		Points:  points,
		Correct: model.Answer{Value: correct},
	}
}

func testExam(questions ...model.Question) *model.ExamDefinition {
	return &model.ExamDefinition{
		Exam: model.Exam{
			ID:              uuid.New(),
			Title:           "Unit Test Exam",
			DurationMinutes: 10,
			Status:          model.ExamStatusPublished,
			CreatedAt:       time.Now(),
		},
		Questions: questions,
	}
}

// Duration 10 minutes, four single-choice questions worth 10 points
// each; two answered correctly, two left blank: 20 of 40.
func TestScoreHalfCorrect(t *testing.T) {
	exam := testExam(
		singleChoice(10, "a"),
		singleChoice(10, "b"),
		singleChoice(10, "c"),
		singleChoice(10, "d"),
	)

	answers := map[uuid.UUID]model.Answer{
		exam.Questions[0].ID: {Value: "a"},
		exam.Questions[1].ID: {Value: "b"},
	}

	require.Equal(t, float64(20), Score(exam, answers))
	require.Equal(t, float64(40), TotalPoints(exam))
}

func TestScoreFullAndEmpty(t *testing.T) {
	exam := testExam(
		singleChoice(5, "a"),
		singleChoice(5, "b"),
		singleChoice(5, "c"),
	)

	full := map[uuid.UUID]model.Answer{
		exam.Questions[0].ID: {Value: "a"},
		exam.Questions[1].ID: {Value: "b"},
		exam.Questions[2].ID: {Value: "c"},
	}
	require.Equal(t, TotalPoints(exam), Score(exam, full))
	require.Equal(t, float64(0), Score(exam, map[uuid.UUID]model.Answer{}))
}

// Same inputs, same output, always.
func TestScoreDeterministic(t *testing.T) {
	exam := testExam(singleChoice(10, "a"), singleChoice(7, "b"))
	answers := map[uuid.UUID]model.Answer{
		exam.Questions[0].ID: {Value: "a"},
		exam.Questions[1].ID: {Value: "x"},
	}

	first := Score(exam, answers)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Score(exam, answers))
	}
}

func TestScoreMultiSelectMembership(t *testing.T) {
	q := model.Question{
		ID:      uuid.New(),
		Type:    model.QuestionTypeMultiSelect,
		Points:  12,
		Correct: model.Answer{Selections: []string{"a", "c", "d"}},
	}
	exam := testExam(q)

	tests := []struct {
		name string
		ans  model.Answer
		want float64
	}{
		{"same order", model.Answer{Selections: []string{"a", "c", "d"}}, 12},
		{"different order", model.Answer{Selections: []string{"d", "a", "c"}}, 12},
		{"subset", model.Answer{Selections: []string{"a", "c"}}, 0},
		{"superset", model.Answer{Selections: []string{"a", "b", "c", "d"}}, 0},
		{"duplicate padding", model.Answer{Selections: []string{"a", "a", "c"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := map[uuid.UUID]model.Answer{q.ID: tt.ans}
			require.Equal(t, tt.want, Score(exam, answers))
		})
	}
}

func TestScoreShortAnswerTrimsSpace(t *testing.T) {
	q := model.Question{
		ID:      uuid.New(),
		Type:    model.QuestionTypeShortAnswer,
		Points:  4,
		Correct: model.Answer{Value: "photosynthesis"},
	}
	exam := testExam(q)

	require.Equal(t, float64(4), Score(exam, map[uuid.UUID]model.Answer{
		q.ID: {Value: "  photosynthesis "},
	}))
	require.Equal(t, float64(0), Score(exam, map[uuid.UUID]model.Answer{
		q.ID: {Value: "Photosynthesis"},
	}))
}

// A malformed or missing correct-answer definition cannot award
// points and must not fail.
func TestScoreMalformedCorrectAnswer(t *testing.T) {
	broken := model.Question{
		ID:     uuid.New(),
		Type:   model.QuestionTypeSingleChoice,
		Points: 10,
		// Correct left zero-valued.
	}
	unknownType := model.Question{
		ID:      uuid.New(),
		Type:    model.QuestionType("ESSAY"),
		Points:  10,
		Correct: model.Answer{Value: "whatever"},
	}
	exam := testExam(broken, unknownType, singleChoice(10, "a"))

	answers := map[uuid.UUID]model.Answer{
		broken.ID:            {Value: ""},
		unknownType.ID:       {Value: "whatever"},
		exam.Questions[2].ID: {Value: "a"},
	}
	require.Equal(t, float64(10), Score(exam, answers))
	require.Equal(t, float64(0), Score(nil, answers))
}
