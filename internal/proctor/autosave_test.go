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

// blockingSaver holds every SaveProgress call until released, so tests
// can observe in-flight behavior deterministically.
type blockingSaver struct {
	mu      sync.Mutex
	calls   []map[uuid.UUID]model.Answer
	entered chan struct{}
	release chan error
}

func newBlockingSaver() *blockingSaver {
	return &blockingSaver{
		entered: make(chan struct{}, 16),
		release: make(chan error, 16),
	}
}

func (b *blockingSaver) SaveProgress(ctx context.Context, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error {
	b.mu.Lock()
	b.calls = append(b.calls, answers)
	b.mu.Unlock()
	b.entered <- struct{}{}
	return <-b.release
}

func (b *blockingSaver) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *blockingSaver) lastCall() map[uuid.UUID]model.Answer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

func waitEntered(t *testing.T, b *blockingSaver) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("saver was never called")
	}
}

func snapshotWith(value string) map[uuid.UUID]model.Answer {
	return map[uuid.UUID]model.Answer{uuid.New(): {Value: value}}
}

func TestAutosaverStatusTransitions(t *testing.T) {
	saver := newBlockingSaver()
	a := NewAutosaver(uuid.New(), saver, time.Second, nil)
	require.Equal(t, SaveStatusIdle, a.Status())

	a.Request(snapshotWith("x"))
	waitEntered(t, saver)
	require.Equal(t, SaveStatusSaving, a.Status())

	saver.release <- nil
	a.Wait()
	require.Equal(t, SaveStatusSaved, a.Status())
}

// On error the status stays at error until the next successful save;
// the periodic tick is the only retry mechanism.
func TestAutosaverErrorStatusStays(t *testing.T) {
	saver := newBlockingSaver()
	a := NewAutosaver(uuid.New(), saver, time.Second, nil)

	a.Request(snapshotWith("x"))
	waitEntered(t, saver)
	saver.release <- errors.New("network down")
	a.Wait()
	require.Equal(t, SaveStatusError, a.Status())

	// No self-retry happened.
	require.Equal(t, 1, saver.callCount())

	// Next requested save recovers the status.
	a.Request(snapshotWith("y"))
	waitEntered(t, saver)
	saver.release <- nil
	a.Wait()
	require.Equal(t, SaveStatusSaved, a.Status())
}

// Requests landing while a save is in flight coalesce: only the
// newest snapshot is written afterwards, so the last write by
// wall-clock order wins and no stale snapshot lands on top.
func TestAutosaverCoalescesInFlightRequests(t *testing.T) {
	saver := newBlockingSaver()
	a := NewAutosaver(uuid.New(), saver, time.Second, nil)

	a.Request(snapshotWith("first"))
	waitEntered(t, saver)

	stale := snapshotWith("stale")
	newest := snapshotWith("newest")
	a.Request(stale)
	a.Request(newest) // replaces the queued stale snapshot

	saver.release <- nil // finish the first save
	waitEntered(t, saver)
	saver.release <- nil // finish the queued save
	a.Wait()

	require.Equal(t, 2, saver.callCount())
	require.Equal(t, newest, saver.lastCall())
}

func TestAutosaverStatusCallback(t *testing.T) {
	saver := newBlockingSaver()

	var mu sync.Mutex
	var seen []SaveStatus
	a := NewAutosaver(uuid.New(), saver, time.Second, func(st SaveStatus) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	a.Request(snapshotWith("x"))
	waitEntered(t, saver)
	saver.release <- nil
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []SaveStatus{SaveStatusSaving, SaveStatusSaved}, seen)
}
