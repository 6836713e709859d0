package proctor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// Domain errors returned by session operations. Contract violations
// (late writes, double submits) surface as these sentinels so the
// caller decides how to present them; the session never panics.
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptClosed    = errors.New("attempt is no longer active")
	ErrUnknownQuestion  = errors.New("question does not belong to this exam")
	ErrNotFinalized     = errors.New("attempt has not been finalized")
)

// FinalizeStore durably records a finalized attempt. Called at most
// once per attempt by the session; retries reuse the same record.
type FinalizeStore interface {
	FinalizeAttempt(ctx context.Context, rec *model.AttemptRecord) error
}

// Store is the full persistence seam a session needs.
type Store interface {
	ProgressSaver
	FinalizeStore
}

// Clock abstracts wall-clock reads so tests can drive time directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config carries the session knobs. Zero values fall back to the
// product defaults.
type Config struct {
	MaxWarnings      int
	GraceDelay       time.Duration
	AutosaveInterval time.Duration
	PollInterval     time.Duration
	SaveTimeout      time.Duration
	Thresholds       []time.Duration
}

// DefaultConfig returns the product defaults: three warnings, a two
// second grace delay before forced submission, autosave every fifteen
// seconds, a one second clock poll.
func DefaultConfig() Config {
	return Config{
		MaxWarnings:      3,
		GraceDelay:       2 * time.Second,
		AutosaveInterval: 15 * time.Second,
		PollInterval:     time.Second,
		SaveTimeout:      10 * time.Second,
		Thresholds:       DefaultThresholds,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWarnings <= 0 {
		c.MaxWarnings = d.MaxWarnings
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = d.GraceDelay
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = d.AutosaveInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.Thresholds == nil {
		c.Thresholds = d.Thresholds
	}
	return c
}

// Option customizes a session at construction.
type Option func(*Session)

// WithClock substitutes the wall-clock source. Tests drive Tick with
// a fake clock; production uses the system clock.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithMonitor attaches an integrity signal source. Start subscribes to
// it and Teardown unsubscribes on every exit path.
func WithMonitor(m Monitor) Option { return func(s *Session) { s.monitor = m } }

// WithObserver attaches the UI push callback.
func WithObserver(o Observer) Option { return func(s *Session) { s.observer = o } }

// WithLogger attaches a parent logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log.With().Str("component", "proctor_session").Logger() }
}

// WithSeedAnswers preloads previously autosaved answers when a session
// is rebuilt after a reload.
func WithSeedAnswers(answers map[uuid.UUID]model.Answer) Option {
	return func(s *Session) { s.answers.Seed(answers) }
}

// Session is the state machine controlling one live exam attempt. It
// is the single writer for the answer store and the phase; the clock,
// the integrity monitor and the autosaver all report back into it.
// Every mutation is serialized through one mutex, which is the Go
// rendering of the single-threaded event-loop discipline the attempt
// semantics require.
type Session struct {
	mu  sync.Mutex
	log zerolog.Logger
	cfg Config

	clock     Clock
	exam      *model.ExamDefinition
	attemptID uuid.UUID
	studentID int

	phase      model.Phase
	answers    *AnswerStore
	warnings   []model.Warning
	escalation *Escalation
	countdown  *Countdown
	autosaver  *Autosaver
	store      Store

	monitor     Monitor
	unsubscribe func()
	observer    Observer

	// finalizing is the exactly-once guard. It is set synchronously,
	// under mu, in the same critical section as the decision to
	// finalize — before any asynchronous work — so near-simultaneous
	// triggers cannot both pass the check.
	finalizing         bool
	endedAt            time.Time
	terminatedForCause bool
	record             *model.AttemptRecord
	persisted          bool
	finalizeErr        error

	started  bool
	torn     bool
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a session for one attempt, anchored at startedAt. The
// session is Active immediately; Start launches the polling loop.
func New(
	exam *model.ExamDefinition,
	attemptID uuid.UUID,
	studentID int,
	startedAt time.Time,
	store Store,
	cfg Config,
	opts ...Option,
) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		log:        zerolog.Nop(),
		cfg:        cfg,
		clock:      systemClock{},
		exam:       exam,
		attemptID:  attemptID,
		studentID:  studentID,
		phase:      model.PhaseActive,
		answers:    NewAnswerStore(),
		escalation: NewEscalation(cfg.MaxWarnings),
		countdown:  NewCountdown(startedAt, exam.Duration(), cfg.Thresholds),
		store:      store,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.autosaver = NewAutosaver(attemptID, store, cfg.SaveTimeout, func(st SaveStatus) {
		s.emit(Event{Kind: EventAutosave, AutosaveStatus: st})
	})
	return s
}

// AttemptID returns the attempt this session controls.
func (s *Session) AttemptID() uuid.UUID { return s.attemptID }

// StudentID returns the owning student.
func (s *Session) StudentID() int { return s.studentID }

// Start subscribes to the integrity monitor and launches the clock
// poll and periodic autosave loop.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.phase.Terminal() {
		s.mu.Unlock()
		return ErrAlreadySubmitted
	}
	s.started = true
	monitor := s.monitor
	s.mu.Unlock()

	if monitor != nil {
		unsub, err := monitor.Subscribe(func(sig Signal) { s.ReportSignal(sig) })
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.unsubscribe = unsub
		s.mu.Unlock()
	}

	go s.loop()
	return nil
}

func (s *Session) loop() {
	poll := time.NewTicker(s.cfg.PollInterval)
	save := time.NewTicker(s.cfg.AutosaveInterval)
	defer poll.Stop()
	defer save.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-poll.C:
			s.Tick(s.clock.Now())
		case <-save.C:
			s.periodicSave()
		}
	}
}

// Tick advances the countdown to now. Threshold crossings emit one
// advisory each; expiry forces submission through the finalize guard.
// A late tick after teardown or a phase transition is a no-op.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	if s.phase != model.PhaseActive || s.torn {
		s.mu.Unlock()
		return
	}

	crossed, expired := s.countdown.Advance(now)
	remaining := int(s.countdown.Remaining(now).Seconds())

	var events []Event
	for _, t := range crossed {
		if t == 0 {
			continue // expiry is announced by the submit path
		}
		events = append(events, Event{
			Kind:             EventThreshold,
			ThresholdSeconds: int(t.Seconds()),
			RemainingSeconds: remaining,
		})
	}

	finalize := false
	if expired {
		finalize = s.beginFinalizeLocked(now, model.PhaseSubmitted, false)
	}
	s.mu.Unlock()

	for _, e := range events {
		s.emit(e)
	}
	if finalize {
		s.log.Info().Msg("exam time expired, forcing submission")
		go s.finalize()
	}
}

// SubmitAnswer writes one answer and immediately queues a save —
// answer edits are high-value and do not wait for the periodic tick.
// Writes outside the Active phase are rejected with ErrAttemptClosed
// and leave no trace.
func (s *Session) SubmitAnswer(questionID uuid.UUID, ans model.Answer) error {
	s.mu.Lock()
	if s.phase != model.PhaseActive || s.torn {
		s.mu.Unlock()
		return ErrAttemptClosed
	}
	if _, ok := s.exam.QuestionByID(questionID); !ok {
		s.mu.Unlock()
		return ErrUnknownQuestion
	}
	s.answers.Set(questionID, ans)
	snap := s.answers.Snapshot()
	s.mu.Unlock()

	s.autosaver.Request(snap)
	return nil
}

// ToggleFlag flips the cosmetic review flag on a question.
func (s *Session) ToggleFlag(questionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != model.PhaseActive || s.torn {
		return false, ErrAttemptClosed
	}
	if _, ok := s.exam.QuestionByID(questionID); !ok {
		return false, ErrUnknownQuestion
	}
	return s.answers.ToggleFlag(questionID), nil
}

// ReportSignal feeds one raw integrity signal into the session. While
// Active it appends exactly one warning, queues an immediate save and
// forwards the warning to the escalation policy, in that order. After
// closure, warnings are still appended for audit but never re-trigger
// closure or a second forced submit. After submission, signals are
// dropped. The returned Classification tells the caller whether the
// client should have suppressed the default action; ok is false when
// the signal is unrecognized or was dropped.
func (s *Session) ReportSignal(sig Signal) (Classification, bool) {
	cls, ok := Classify(sig)
	if !ok {
		return Classification{}, false
	}

	s.mu.Lock()
	if s.phase == model.PhaseSubmitted || s.torn {
		s.mu.Unlock()
		return Classification{}, false
	}

	w := cls.Warning
	if w.OccurredAt.IsZero() {
		w.OccurredAt = s.clock.Now()
	}
	cls.Warning = w

	// The warning is recorded before the escalation policy sees the
	// new count, so a crash in between never loses the warning itself.
	s.warnings = append(s.warnings, w)

	active := s.phase == model.PhaseActive
	var snap map[uuid.UUID]model.Answer
	if active {
		snap = s.answers.Snapshot()
	}

	count, crossed := s.escalation.Record()

	events := []Event{{
		Kind:         EventWarning,
		Warning:      &w,
		WarningCount: count,
		MaxWarnings:  s.escalation.Max(),
	}}

	if active && crossed {
		// Terminate for cause. The finalize guard goes up in the same
		// critical section; the grace delay only postpones the write,
		// not the decision.
		s.beginFinalizeLocked(w.OccurredAt, model.PhaseClosed, true)
		events = append(events, Event{
			Kind:         EventClosed,
			WarningCount: count,
			MaxWarnings:  s.escalation.Max(),
			Reason:       "warning limit reached",
		})
		time.AfterFunc(s.cfg.GraceDelay, s.finalize)
	}
	s.mu.Unlock()

	if snap != nil {
		s.autosaver.Request(snap)
	}
	for _, e := range events {
		s.emit(e)
	}
	return cls, true
}

// RequestManualSubmit finalizes the attempt at the student's request.
// It is a no-op returning a sentinel if the attempt already left the
// Active phase or a finalize is already underway.
func (s *Session) RequestManualSubmit() error {
	s.mu.Lock()
	if s.phase == model.PhaseClosed || s.torn {
		s.mu.Unlock()
		return ErrAttemptClosed
	}
	if s.finalizing || s.phase == model.PhaseSubmitted {
		s.mu.Unlock()
		return ErrAlreadySubmitted
	}
	ok := s.beginFinalizeLocked(s.clock.Now(), model.PhaseSubmitted, false)
	s.mu.Unlock()

	if ok {
		go s.finalize()
	}
	return nil
}

// beginFinalizeLocked wins or loses the race to finalize. Must be
// called with mu held. endedAt records the winning trigger's time.
func (s *Session) beginFinalizeLocked(now time.Time, terminal model.Phase, forCause bool) bool {
	if s.finalizing {
		return false
	}
	s.finalizing = true
	s.endedAt = now
	s.phase = terminal
	if forCause {
		s.terminatedForCause = true
	}
	return true
}

// finalize runs the one-shot pipeline: final best-effort flush, score,
// build the attempt record, hand it to persistence, announce the
// outcome. The finalizing guard guarantees a single execution; the
// record is preserved on failure so RetryFinalize re-attempts the same
// write without re-scoring.
func (s *Session) finalize() {
	s.mu.Lock()
	snap := s.answers.Snapshot()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()

	// Final flush, best effort: the answer set is frozen, losing this
	// write only costs the hot buffer, never the record below.
	if err := s.autosaver.Flush(ctx, snap); err != nil {
		s.log.Warn().Err(err).Msg("final autosave flush failed")
	}

	s.mu.Lock()
	if s.record == nil {
		s.record = &model.AttemptRecord{
			AttemptID:          s.attemptID,
			ExamID:             s.exam.ID,
			StudentID:          s.studentID,
			Answers:            snap,
			StartedAt:          s.countdown.StartedAt(),
			EndedAt:            s.endedAt,
			Score:              Score(s.exam, snap),
			Warnings:           append([]model.Warning(nil), s.warnings...),
			TerminatedForCause: s.terminatedForCause,
		}
	}
	rec := s.record
	s.mu.Unlock()

	err := s.store.FinalizeAttempt(ctx, rec)

	s.mu.Lock()
	s.finalizeErr = err
	if err == nil {
		s.persisted = true
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", rec.AttemptID.String()).
			Msg("finalize attempt failed, record preserved for retry")
		s.emit(Event{Kind: EventSubmitFailed, Reason: "could not submit, please retry"})
	} else {
		s.log.Info().
			Str("attempt_id", rec.AttemptID.String()).
			Float64("score", rec.Score).
			Int("warnings", len(rec.Warnings)).
			Bool("terminated_for_cause", rec.TerminatedForCause).
			Msg("attempt finalized")
		s.emit(Event{
			Kind:         EventSubmitted,
			Score:        rec.Score,
			TotalPoints:  TotalPoints(s.exam),
			WarningCount: len(rec.Warnings),
			Reason:       s.submitReason(rec.TerminatedForCause),
		})
	}

	s.release()
}

func (s *Session) submitReason(forCause bool) string {
	if forCause {
		return "terminated for integrity violations"
	}
	return "submitted"
}

// RetryFinalize re-attempts a failed finalize with the preserved
// record. Scoring is not repeated; the record is immutable.
func (s *Session) RetryFinalize(ctx context.Context) error {
	s.mu.Lock()
	rec, persisted := s.record, s.persisted
	s.mu.Unlock()

	if rec == nil {
		return ErrNotFinalized
	}
	if persisted {
		return nil
	}

	err := s.store.FinalizeAttempt(ctx, rec)
	s.mu.Lock()
	s.finalizeErr = err
	if err == nil {
		s.persisted = true
	}
	s.mu.Unlock()
	if err == nil {
		s.emit(Event{Kind: EventSubmitted, Score: rec.Score, TotalPoints: TotalPoints(s.exam), WarningCount: len(rec.Warnings)})
	}
	return err
}

// Record returns the finalized attempt record, if one has been built.
func (s *Session) Record() *model.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// FinalizeError returns the outcome of the last finalize write.
func (s *Session) FinalizeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeErr
}

// Persisted reports whether the record reached durable storage.
func (s *Session) Persisted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted
}

// State returns the observable snapshot for the UI. After a terminal
// transition the remaining time freezes at the moment the attempt
// ended.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.clock.Now()
	if s.phase.Terminal() {
		at = s.endedAt
	}

	snap := Snapshot{
		AttemptID:          s.attemptID,
		ExamID:             s.exam.ID,
		Phase:              s.phase,
		RemainingSeconds:   int(s.countdown.Remaining(at).Seconds()),
		Warnings:           append([]model.Warning(nil), s.warnings...),
		WarningCount:       s.escalation.Count(),
		MaxWarnings:        s.escalation.Max(),
		AutosaveStatus:     s.autosaver.Status(),
		Answers:            s.answers.Snapshot(),
		Flagged:            s.answers.Flagged(),
		TerminatedForCause: s.terminatedForCause,
	}
	if s.record != nil {
		score := s.record.Score
		snap.Score = &score
	}
	return snap
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Teardown releases the polling loop and the monitor subscription. It
// is safe on every exit path and as a late duplicate; a pending forced
// submission still completes after teardown.
func (s *Session) Teardown() {
	s.release()
}

func (s *Session) release() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.torn = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Session) periodicSave() {
	s.mu.Lock()
	if s.phase != model.PhaseActive || s.torn {
		s.mu.Unlock()
		return // skipped, not queued
	}
	snap := s.answers.Snapshot()
	s.mu.Unlock()

	s.autosaver.Request(snap)
}

func (s *Session) emit(e Event) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs(e)
	}
}
