package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/repository"
)

// Domain Errors
var (
	ErrExamNotAvailable = errors.New("exam is not available for joining")
	ErrNoQuestions      = errors.New("exam has no questions")
)

// ExamService serves exam definitions and the student-facing payload,
// backed by a Redis cache so the join/reload hot path never touches
// PostgreSQL.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// GetByEntryToken resolves a published exam from its entry token.
func (s *ExamService) GetByEntryToken(ctx context.Context, token string) (*model.Exam, error) {
	exam, err := s.examRepo.GetByEntryToken(ctx, token)
	if err != nil {
		return nil, ErrExamNotAvailable
	}
	return exam, nil
}

// GetDefinition loads the full exam definition, correct answers
// included, for driving a live session. Always served from PostgreSQL:
// the definition feeds scoring and must be the source of truth.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def, err := s.examRepo.GetDefinition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if len(def.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	return def, nil
}

// WarmExamCache loads an exam's student payload and duration from
// PostgreSQL into Redis. Core cache-warming logic used by
// PrewarmAllCaches on startup.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	def, err := s.examRepo.GetDefinition(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("get definition: %w", err)
	}
	if len(def.Questions) == 0 {
		return ErrNoQuestions
	}

	// Build student-facing payload (without correct answers).
	studentQuestions := make([]model.QuestionForStudent, len(def.Questions))
	for i, q := range def.Questions {
		studentQuestions[i] = q.ForStudent()
	}

	payload := model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: studentQuestions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID), payloadJSON, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached student payload. On a cache miss
// it falls back to PostgreSQL and self-heals the cache.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get payload: %w", err)
		}
		exam, dbErr := s.examRepo.GetByID(ctx, examID)
		if dbErr != nil {
			return nil, fmt.Errorf("payload not cached and exam not found: %w", dbErr)
		}
		if warmErr := s.WarmExamCache(ctx, exam); warmErr != nil {
			return nil, warmErr
		}
		data, err = s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
		if err != nil {
			return nil, fmt.Errorf("get payload after warm: %w", err)
		}
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}
