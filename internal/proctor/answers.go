package proctor

import (
	"github.com/google/uuid"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// AnswerStore is the in-memory map of question id to answer for one
// live attempt. It has a single write path (Set) and is mutated only
// by the owning Session; it carries no locking of its own.
type AnswerStore struct {
	answers map[uuid.UUID]model.Answer
	flagged map[uuid.UUID]bool
}

// NewAnswerStore returns an empty store.
func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		answers: make(map[uuid.UUID]model.Answer),
		flagged: make(map[uuid.UUID]bool),
	}
}

// Seed loads previously autosaved answers, used when a session is
// rebuilt after a reload or process restart.
func (s *AnswerStore) Seed(answers map[uuid.UUID]model.Answer) {
	for id, a := range answers {
		s.answers[id] = a.Clone()
	}
}

// Set writes the answer for a question. An existing answer is replaced
// wholesale — multi-select toggles arrive as the full new selection
// set, never as a delta.
func (s *AnswerStore) Set(questionID uuid.UUID, ans model.Answer) {
	s.answers[questionID] = ans.Clone()
}

// Get returns the current answer for a question.
func (s *AnswerStore) Get(questionID uuid.UUID) (model.Answer, bool) {
	a, ok := s.answers[questionID]
	return a, ok
}

// Len returns the number of answered questions.
func (s *AnswerStore) Len() int { return len(s.answers) }

// ToggleFlag flips the review flag on a question and returns the new
// state. Flags are cosmetic and never affect scoring.
func (s *AnswerStore) ToggleFlag(questionID uuid.UUID) bool {
	if s.flagged[questionID] {
		delete(s.flagged, questionID)
		return false
	}
	s.flagged[questionID] = true
	return true
}

// Snapshot returns a copy of all answers sharing no memory with the
// store, safe to hand to persistence while the session keeps mutating.
func (s *AnswerStore) Snapshot() map[uuid.UUID]model.Answer {
	snap := make(map[uuid.UUID]model.Answer, len(s.answers))
	for id, a := range s.answers {
		snap[id] = a.Clone()
	}
	return snap
}

// Flagged returns the ids of all flagged questions.
func (s *AnswerStore) Flagged() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.flagged))
	for id := range s.flagged {
		ids = append(ids, id)
	}
	return ids
}
