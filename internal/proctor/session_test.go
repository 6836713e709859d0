package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// fakeStore records every persistence call and can be told to fail.
type fakeStore struct {
	mu          sync.Mutex
	progress    []map[uuid.UUID]model.Answer
	records     []*model.AttemptRecord
	finalizeErr error
	finalized   chan *model.AttemptRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{finalized: make(chan *model.AttemptRecord, 8)}
}

func (f *fakeStore) SaveProgress(ctx context.Context, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, answers)
	return nil
}

func (f *fakeStore) FinalizeAttempt(ctx context.Context, rec *model.AttemptRecord) error {
	f.mu.Lock()
	err := f.finalizeErr
	f.records = append(f.records, rec)
	f.mu.Unlock()
	f.finalized <- rec
	return err
}

func (f *fakeStore) setFinalizeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeErr = err
}

func (f *fakeStore) finalizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) progressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.progress)
}

func waitFinalized(t *testing.T, f *fakeStore) *model.AttemptRecord {
	t.Helper()
	select {
	case rec := <-f.finalized:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("attempt was never finalized")
		return nil
	}
}

func requireNoFinalize(t *testing.T, f *fakeStore) {
	t.Helper()
	select {
	case <-f.finalized:
		t.Fatal("unexpected finalize")
	case <-time.After(100 * time.Millisecond):
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeStore, *fakeClock, *eventRecorder) {
	t.Helper()

	exam := testExam(
		singleChoice(10, "a"),
		singleChoice(10, "b"),
		singleChoice(10, "c"),
		singleChoice(10, "d"),
	)

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := newFakeStore()
	rec := &eventRecorder{}

	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = 20 * time.Millisecond
	}
	// Long intervals: tests drive Tick directly.
	cfg.PollInterval = time.Hour
	cfg.AutosaveInterval = time.Hour

	sess := New(exam, uuid.New(), 42, start, store, cfg,
		WithClock(clock),
		WithObserver(rec.record),
	)
	t.Cleanup(sess.Teardown)
	return sess, store, clock, rec
}

func copySignal(at time.Time) Signal {
	return Signal{Kind: SignalCopy, At: at}
}

func TestSubmitAnswerWritesAndSavesImmediately(t *testing.T) {
	sess, store, _, _ := newTestSession(t, Config{})
	qID := sess.exam.Questions[0].ID

	require.NoError(t, sess.SubmitAnswer(qID, model.Answer{Value: "a"}))

	require.Eventually(t, func() bool { return store.progressCount() >= 1 },
		time.Second, 5*time.Millisecond)

	snap := sess.State()
	require.Equal(t, model.Answer{Value: "a"}, snap.Answers[qID])

	// Overwriting replaces, never merges.
	require.NoError(t, sess.SubmitAnswer(qID, model.Answer{Value: "b"}))
	require.Equal(t, model.Answer{Value: "b"}, sess.State().Answers[qID])
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	sess, _, _, _ := newTestSession(t, Config{})
	err := sess.SubmitAnswer(uuid.New(), model.Answer{Value: "a"})
	require.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestManualSubmitFinalizesExactlyOnce(t *testing.T) {
	sess, store, _, _ := newTestSession(t, Config{})
	qID := sess.exam.Questions[0].ID
	require.NoError(t, sess.SubmitAnswer(qID, model.Answer{Value: "a"}))

	require.NoError(t, sess.RequestManualSubmit())
	require.ErrorIs(t, sess.RequestManualSubmit(), ErrAlreadySubmitted)

	rec := waitFinalized(t, store)
	require.Equal(t, float64(10), rec.Score)
	require.False(t, rec.TerminatedForCause)
	require.Equal(t, model.PhaseSubmitted, sess.Phase())

	// Writes after the terminal transition are dropped without trace.
	err := sess.SubmitAnswer(qID, model.Answer{Value: "d"})
	require.ErrorIs(t, err, ErrAttemptClosed)
	require.Equal(t, model.Answer{Value: "a"}, rec.Answers[qID])

	requireNoFinalize(t, store)
	require.Equal(t, 1, store.finalizeCount())
}

func TestTimerExpiryForcesSubmissionOnce(t *testing.T) {
	sess, store, clock, _ := newTestSession(t, Config{})

	expiry := clock.Advance(10 * time.Minute)
	sess.Tick(expiry)
	sess.Tick(clock.Advance(time.Second))
	sess.Tick(clock.Advance(time.Second))

	rec := waitFinalized(t, store)
	require.Equal(t, expiry, rec.EndedAt)
	require.False(t, rec.TerminatedForCause)
	require.Equal(t, model.PhaseSubmitted, sess.Phase())

	requireNoFinalize(t, store)
	require.Equal(t, 1, store.finalizeCount())
}

func TestThresholdAdvisoriesFireOnce(t *testing.T) {
	sess, _, clock, events := newTestSession(t, Config{})

	// 10-minute exam: only the 5m and 1m marks are reachable.
	sess.Tick(clock.Advance(5 * time.Minute))
	sess.Tick(clock.Advance(time.Second))
	sess.Tick(clock.Advance(time.Second))

	advisories := events.byKind(EventThreshold)
	require.Len(t, advisories, 1)
	require.Equal(t, 300, advisories[0].ThresholdSeconds)
}

func TestWarningLimitClosesThenForcesSubmit(t *testing.T) {
	sess, store, clock, events := newTestSession(t, Config{MaxWarnings: 3})

	for i := 0; i < 2; i++ {
		cls, ok := sess.ReportSignal(copySignal(clock.Now()))
		require.True(t, ok)
		require.True(t, cls.Prevent)
		require.Equal(t, model.PhaseActive, sess.Phase())
	}

	// Third warning crosses the limit: closed for cause, forced
	// submission after the grace delay.
	_, ok := sess.ReportSignal(copySignal(clock.Now()))
	require.True(t, ok)
	require.Equal(t, model.PhaseClosed, sess.Phase())

	closed := events.byKind(EventClosed)
	require.Len(t, closed, 1)
	require.Equal(t, 3, closed[0].WarningCount)

	// A fourth warning during the grace window is audited but does
	// not re-trigger closure or another forced submit.
	_, ok = sess.ReportSignal(copySignal(clock.Now()))
	require.True(t, ok)
	require.Len(t, events.byKind(EventClosed), 1)

	rec := waitFinalized(t, store)
	require.True(t, rec.TerminatedForCause)
	require.Len(t, rec.Warnings, 4)
	require.Equal(t, model.PhaseClosed, sess.Phase())

	requireNoFinalize(t, store)
	require.Equal(t, 1, store.finalizeCount())

	// After submission completes, further signals are dropped.
	_, ok = sess.ReportSignal(copySignal(clock.Now()))
	require.False(t, ok)
}

func TestWarningTriggersImmediateSave(t *testing.T) {
	sess, store, clock, _ := newTestSession(t, Config{})

	before := store.progressCount()
	_, ok := sess.ReportSignal(copySignal(clock.Now()))
	require.True(t, ok)

	require.Eventually(t, func() bool { return store.progressCount() > before },
		time.Second, 5*time.Millisecond)

	snap := sess.State()
	require.Equal(t, 1, snap.WarningCount)
	require.Len(t, snap.Warnings, 1)
	require.Equal(t, model.WarningCopyAttempt, snap.Warnings[0].Kind)
}

// Timer expiry and a manual submit racing in the same instant must
// produce exactly one attempt record.
func TestExpiryManualSubmitRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		sess, store, clock, _ := newTestSession(t, Config{})
		expiry := clock.Advance(10 * time.Minute)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sess.Tick(expiry)
		}()
		go func() {
			defer wg.Done()
			_ = sess.RequestManualSubmit()
		}()
		wg.Wait()

		waitFinalized(t, store)
		requireNoFinalize(t, store)
		require.Equal(t, 1, store.finalizeCount())
		sess.Teardown()
	}
}

func TestFinalizeFailurePreservesRecordForRetry(t *testing.T) {
	sess, store, _, events := newTestSession(t, Config{})
	qID := sess.exam.Questions[1].ID
	require.NoError(t, sess.SubmitAnswer(qID, model.Answer{Value: "b"}))

	store.setFinalizeErr(errors.New("persistence down"))
	require.NoError(t, sess.RequestManualSubmit())

	first := waitFinalized(t, store)
	require.Eventually(t, func() bool { return len(events.byKind(EventSubmitFailed)) > 0 },
		time.Second, 5*time.Millisecond)
	require.Error(t, sess.FinalizeError())
	require.False(t, sess.Persisted())

	// The in-memory record survives: the retry re-attempts the same
	// finalize call without recomputing anything.
	store.setFinalizeErr(nil)
	require.NoError(t, sess.RetryFinalize(context.Background()))
	second := waitFinalized(t, store)
	require.Same(t, first, second)
	require.True(t, sess.Persisted())

	// A retry after success is a no-op.
	require.NoError(t, sess.RetryFinalize(context.Background()))
	requireNoFinalize(t, store)
}

func TestRetryBeforeFinalize(t *testing.T) {
	sess, _, _, _ := newTestSession(t, Config{})
	require.ErrorIs(t, sess.RetryFinalize(context.Background()), ErrNotFinalized)
}

func TestTeardownMakesLateCallbacksNoops(t *testing.T) {
	sess, store, clock, _ := newTestSession(t, Config{})
	sess.Teardown()
	sess.Teardown() // duplicate teardown is safe

	sess.Tick(clock.Advance(time.Hour))
	requireNoFinalize(t, store)

	_, ok := sess.ReportSignal(copySignal(clock.Now()))
	require.False(t, ok)
	require.ErrorIs(t, sess.SubmitAnswer(sess.exam.Questions[0].ID, model.Answer{Value: "a"}), ErrAttemptClosed)
}

func TestMonitorSubscriptionReleasedOnTeardown(t *testing.T) {
	bus := NewSignalBus()
	exam := testExam(singleChoice(10, "a"))
	start := time.Now()
	store := newFakeStore()

	sess := New(exam, uuid.New(), 7, start, store, Config{}, WithMonitor(bus))
	require.NoError(t, sess.Start())
	require.ErrorIs(t, sess.Start(), ErrAlreadyStarted)

	bus.Publish(copySignal(time.Now()))
	require.Equal(t, 1, sess.State().WarningCount)

	sess.Teardown()
	bus.Publish(copySignal(time.Now()))
	require.Equal(t, 1, sess.State().WarningCount)
}

func TestToggleFlagCosmetic(t *testing.T) {
	sess, _, _, _ := newTestSession(t, Config{})
	qID := sess.exam.Questions[2].ID

	on, err := sess.ToggleFlag(qID)
	require.NoError(t, err)
	require.True(t, on)
	require.Equal(t, []uuid.UUID{qID}, sess.State().Flagged)

	off, err := sess.ToggleFlag(qID)
	require.NoError(t, err)
	require.False(t, off)
	require.Empty(t, sess.State().Flagged)
}

func TestStateFreezesRemainingAfterTerminal(t *testing.T) {
	sess, store, clock, _ := newTestSession(t, Config{})

	clock.Advance(4 * time.Minute)
	require.NoError(t, sess.RequestManualSubmit())
	waitFinalized(t, store)

	frozen := sess.State().RemainingSeconds
	clock.Advance(3 * time.Minute)
	require.Equal(t, frozen, sess.State().RemainingSeconds)
	require.Equal(t, 6*60, frozen)
}
