package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/repository"
)

// answersQueuePayload is one autosaved snapshot queued for write-behind
// persistence by the AutosaveWorker.
type answersQueuePayload struct {
	AttemptID uuid.UUID                  `json:"attempt_id"`
	Answers   map[uuid.UUID]model.Answer `json:"answers"`
}

// attemptStore adapts Redis and PostgreSQL into the persistence seam a
// live session drives. Progress saves land in the Redis hot buffer and
// are queued for the write-behind worker; finalization writes
// PostgreSQL synchronously so a failure is visible to the session and
// can be retried with the preserved record.
type attemptStore struct {
	attemptRepo *repository.AttemptRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

func newAttemptStore(attemptRepo *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *attemptStore {
	return &attemptStore{
		attemptRepo: attemptRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_store").Logger(),
	}
}

// SaveProgress writes the snapshot into the attempt's Redis hash and
// queues it for PostgreSQL persistence. The Redis write is the one that
// matters for resume; the queue write is best effort because the
// worker re-reads Redis state on recovery anyway.
func (s *attemptStore) SaveProgress(ctx context.Context, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(answers))
	for questionID, ans := range answers {
		data, err := json.Marshal(ans)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		fields[questionID.String()] = data
	}

	if err := s.rdb.HSet(ctx, config.CacheKey.AttemptAnswersKey(attemptID), fields).Err(); err != nil {
		return fmt.Errorf("buffer answers: %w", err)
	}

	payload, err := json.Marshal(answersQueuePayload{AttemptID: attemptID, Answers: answers})
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Failed to queue answers for persistence")
	}
	return nil
}

// FinalizeAttempt durably records the terminal attempt state. The row
// update is synchronous; warnings ride the write-behind queue since
// losing one to a crash does not change the already-recorded outcome.
func (s *attemptStore) FinalizeAttempt(ctx context.Context, rec *model.AttemptRecord) error {
	phase := model.PhaseSubmitted
	if rec.TerminatedForCause {
		phase = model.PhaseClosed
	}

	if err := s.attemptRepo.Finalize(ctx, rec, phase); err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}

	s.queueWarnings(ctx, rec)
	s.cleanupBuffers(ctx, rec)
	return nil
}

func (s *attemptStore) queueWarnings(ctx context.Context, rec *model.AttemptRecord) {
	if len(rec.Warnings) == 0 {
		return
	}
	pipe := s.rdb.Pipeline()
	for _, w := range rec.Warnings {
		data, err := json.Marshal(repository.WarningRow{AttemptID: rec.AttemptID, Warning: w})
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistWarningsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", rec.AttemptID.String()).
			Int("warnings", len(rec.Warnings)).
			Msg("Failed to queue warnings for persistence")
	}
}

func (s *attemptStore) cleanupBuffers(ctx context.Context, rec *model.AttemptRecord) {
	if err := s.rdb.Del(ctx, config.CacheKey.AttemptAnswersKey(rec.AttemptID)).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", rec.AttemptID.String()).
			Msg("Failed to clean up attempt buffers")
	}
}

// LoadBufferedAnswers reads the attempt's Redis hot buffer, used to
// seed a rebuilt session. Returns an empty map when nothing is
// buffered.
func (s *attemptStore) LoadBufferedAnswers(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]model.Answer, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read buffered answers: %w", err)
	}

	answers := make(map[uuid.UUID]model.Answer, len(raw))
	for field, value := range raw {
		questionID, err := uuid.Parse(field)
		if err != nil {
			s.log.Warn().Str("field", field).Msg("Dropping buffered answer with invalid question id")
			continue
		}
		var ans model.Answer
		if err := json.Unmarshal([]byte(value), &ans); err != nil {
			s.log.Warn().Err(err).Str("field", field).Msg("Dropping malformed buffered answer")
			continue
		}
		answers[questionID] = ans
	}
	return answers, nil
}
