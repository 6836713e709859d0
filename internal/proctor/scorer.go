package proctor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// Score grades a final answer set against an exam definition. It is a
// pure function: no clock reads, no randomness, no I/O — calling it
// twice with the same inputs returns the same total. Each question
// awards its full points on an exact match and zero otherwise;
// unanswered questions and questions with a missing or malformed
// correct answer award zero. It never fails.
func Score(exam *model.ExamDefinition, answers map[uuid.UUID]model.Answer) float64 {
	if exam == nil {
		return 0
	}

	var total float64
	for i := range exam.Questions {
		q := &exam.Questions[i]
		ans, ok := answers[q.ID]
		if !ok || ans.IsZero() {
			continue
		}
		if matches(q, ans) {
			total += q.Points
		}
	}
	return total
}

// TotalPoints returns the maximum achievable score for an exam.
func TotalPoints(exam *model.ExamDefinition) float64 {
	var total float64
	for i := range exam.Questions {
		total += exam.Questions[i].Points
	}
	return total
}

func matches(q *model.Question, ans model.Answer) bool {
	switch q.Type {
	case model.QuestionTypeSingleChoice:
		return q.Correct.Value != "" && ans.Value == q.Correct.Value
	case model.QuestionTypeShortAnswer:
		want := strings.TrimSpace(q.Correct.Value)
		return want != "" && strings.TrimSpace(ans.Value) == want
	case model.QuestionTypeMultiSelect:
		// Equality of membership, not of order.
		return len(q.Correct.Selections) > 0 &&
			sameMembers(ans.Selections, q.Correct.Selections)
	default:
		return false
	}
}

func sameMembers(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	set := make(map[string]int, len(want))
	for _, w := range want {
		set[w]++
	}
	for _, g := range got {
		if set[g] == 0 {
			return false
		}
		set[g]--
	}
	return true
}
