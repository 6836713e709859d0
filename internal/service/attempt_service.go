package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/proctor"
	"github.com/sentineledu/sentinel-backend/internal/repository"
)

// Domain errors.
var (
	ErrAttemptNotFound = errors.New("no attempt found")
	ErrNotAttemptOwner = errors.New("attempt belongs to another student")
	ErrExamNotOpen     = errors.New("exam is outside its scheduled window")
)

// AttemptService orchestrates live exam attempts: joining, rebuilding
// sessions after a reload or restart, and routing student actions into
// the per-attempt state machine.
type AttemptService struct {
	cfg         *config.Config
	attemptRepo *repository.AttemptRepository
	examService *ExamService
	store       *attemptStore
	registry    *proctor.Registry
	rdb         *redis.Client
	log         zerolog.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID]map[int]proctor.Observer
	nextSubID   int
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	cfg *config.Config,
	attemptRepo *repository.AttemptRepository,
	examService *ExamService,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		cfg:         cfg,
		attemptRepo: attemptRepo,
		examService: examService,
		store:       newAttemptStore(attemptRepo, rdb, log),
		registry:    proctor.NewRegistry(),
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
		subscribers: make(map[uuid.UUID]map[int]proctor.Observer),
	}
}

// JoinExam resolves the entry token, creates (or reuses) the attempt
// row and brings up a live session. Joining is idempotent: a student
// who reloads or reconnects gets their existing attempt back with the
// original clock anchor.
func (s *AttemptService) JoinExam(ctx context.Context, studentID int, entryToken string) (*model.Attempt, error) {
	exam, err := s.examService.GetByEntryToken(ctx, entryToken)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if exam.ScheduledStart != nil && exam.ScheduledStart.After(now) {
		return nil, ErrExamNotOpen
	}
	if exam.ScheduledEnd != nil && exam.ScheduledEnd.Before(now) {
		return nil, ErrExamNotOpen
	}

	attempt := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		StudentID: studentID,
	}
	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	if !attempt.Phase.Terminal() {
		if _, err := s.ensureSession(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return attempt, nil
}

// GetAttempt loads an attempt and verifies ownership.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

// Session returns the live session for an attempt, rebuilding it from
// durable state when this process does not have one (reload after a
// server restart). The rebuilt session keeps the original clock
// anchor, so lost time is never given back.
func (s *AttemptService) Session(ctx context.Context, attemptID uuid.UUID, studentID int) (*proctor.Session, error) {
	if sess, ok := s.registry.Get(attemptID); ok {
		if sess.StudentID() != studentID {
			return nil, ErrNotAttemptOwner
		}
		return sess, nil
	}

	attempt, err := s.GetAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.Phase.Terminal() {
		return nil, proctor.ErrAttemptClosed
	}
	return s.ensureSession(ctx, attempt)
}

func (s *AttemptService) ensureSession(ctx context.Context, attempt *model.Attempt) (*proctor.Session, error) {
	if sess, ok := s.registry.Get(attempt.ID); ok {
		return sess, nil
	}

	def, err := s.examService.GetDefinition(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}

	// Seed from the Redis hot buffer; fall back to the persisted rows
	// if the buffer was evicted.
	seed, err := s.store.LoadBufferedAnswers(ctx, attempt.ID)
	if err != nil || len(seed) == 0 {
		seed, err = s.attemptRepo.GetAnswers(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("load answers: %w", err)
		}
	}

	sess := proctor.New(def, attempt.ID, attempt.StudentID, attempt.StartedAt, s.store,
		proctor.Config{
			MaxWarnings:      s.cfg.MaxWarnings,
			GraceDelay:       s.cfg.WarningGrace,
			AutosaveInterval: s.cfg.AutosaveInterval,
			PollInterval:     s.cfg.ClockPoll,
		},
		proctor.WithLogger(s.log),
		proctor.WithSeedAnswers(seed),
		proctor.WithObserver(func(e proctor.Event) { s.dispatch(attempt.ID, e) }),
	)

	registered, created := s.registry.Put(sess)
	if !created {
		// Lost a concurrent build; the registered session wins.
		sess.Teardown()
		return registered, nil
	}

	if err := sess.Start(); err != nil && !errors.Is(err, proctor.ErrAlreadyStarted) {
		s.registry.Remove(attempt.ID)
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", attempt.ExamID.String()).
		Int("student_id", attempt.StudentID).
		Int("seeded_answers", len(seed)).
		Msg("Live session started")
	return registered, nil
}

// SubmitAnswer writes one answer into the live session.
func (s *AttemptService) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, ans model.Answer) error {
	sess, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	return sess.SubmitAnswer(questionID, ans)
}

// ToggleFlag flips the review flag on a question.
func (s *AttemptService) ToggleFlag(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID) (bool, error) {
	sess, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return false, err
	}
	return sess.ToggleFlag(questionID)
}

// ReportSignal feeds one raw integrity signal into the live session
// and returns its classification so the client knows whether the
// default action should have been suppressed.
func (s *AttemptService) ReportSignal(ctx context.Context, attemptID uuid.UUID, studentID int, sig proctor.Signal) (proctor.Classification, bool, error) {
	sess, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return proctor.Classification{}, false, err
	}
	cls, ok := sess.ReportSignal(sig)
	return cls, ok, nil
}

// Submit finalizes the attempt at the student's request.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) error {
	sess, err := s.Session(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	return sess.RequestManualSubmit()
}

// RetrySubmit re-attempts a failed finalize for a session still held
// in this process.
func (s *AttemptService) RetrySubmit(ctx context.Context, attemptID uuid.UUID, studentID int) error {
	sess, ok := s.registry.Get(attemptID)
	if !ok {
		return ErrAttemptNotFound
	}
	if sess.StudentID() != studentID {
		return ErrNotAttemptOwner
	}
	return sess.RetryFinalize(ctx)
}

// State returns the observable snapshot for an attempt. For finalized
// attempts no longer held live, the snapshot is rebuilt from the
// durable row.
func (s *AttemptService) State(ctx context.Context, attemptID uuid.UUID, studentID int) (*proctor.Snapshot, error) {
	if sess, ok := s.registry.Get(attemptID); ok {
		if sess.StudentID() != studentID {
			return nil, ErrNotAttemptOwner
		}
		snap := sess.State()
		return &snap, nil
	}

	attempt, err := s.GetAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !attempt.Phase.Terminal() {
		sess, err := s.ensureSession(ctx, attempt)
		if err != nil {
			return nil, err
		}
		snap := sess.State()
		return &snap, nil
	}

	snap := &proctor.Snapshot{
		AttemptID:          attempt.ID,
		ExamID:             attempt.ExamID,
		Phase:              attempt.Phase,
		WarningCount:       attempt.WarningCount,
		MaxWarnings:        s.cfg.MaxWarnings,
		AutosaveStatus:     proctor.SaveStatusSaved,
		TerminatedForCause: attempt.TerminatedForCause,
		Score:              attempt.Score,
	}
	return snap, nil
}

// ListByStudent returns all attempts for a student.
func (s *AttemptService) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	return s.attemptRepo.ListByStudent(ctx, studentID)
}

// Subscribe attaches an observer to an attempt's event stream and
// returns an unsubscribe func. Used by the WebSocket handler to push
// session events to the connected client.
func (s *AttemptService) Subscribe(attemptID uuid.UUID, obs proctor.Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers[attemptID] == nil {
		s.subscribers[attemptID] = make(map[int]proctor.Observer)
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[attemptID][id] = obs

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers[attemptID], id)
		if len(s.subscribers[attemptID]) == 0 {
			delete(s.subscribers, attemptID)
		}
	}
}

func (s *AttemptService) dispatch(attemptID uuid.UUID, e proctor.Event) {
	s.mu.Lock()
	subs := make([]proctor.Observer, 0, len(s.subscribers[attemptID]))
	for _, obs := range s.subscribers[attemptID] {
		subs = append(subs, obs)
	}
	s.mu.Unlock()

	for _, obs := range subs {
		obs(e)
	}

	// A durably recorded attempt no longer needs a live session.
	if e.Kind == proctor.EventSubmitted {
		go s.registry.Remove(attemptID)
	}
}

// Shutdown tears down every live session in this process.
func (s *AttemptService) Shutdown() {
	s.registry.Shutdown()
}
