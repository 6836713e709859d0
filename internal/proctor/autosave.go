package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// SaveStatus is the observable autosave state surfaced to the UI.
type SaveStatus string

const (
	SaveStatusIdle   SaveStatus = "idle"
	SaveStatusSaving SaveStatus = "saving"
	SaveStatusSaved  SaveStatus = "saved"
	SaveStatusError  SaveStatus = "error"
)

// ProgressSaver is the best-effort persistence seam for in-progress
// answers. Implementations are treated as fallible network calls.
type ProgressSaver interface {
	SaveProgress(ctx context.Context, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error
}

// Autosaver pushes answer snapshots through a ProgressSaver. Writes
// are serialized through a single in-flight guard: a request arriving
// while a save is running replaces the queued snapshot instead of
// starting a second write, so the last snapshot by wall-clock order is
// the one that lands. A failed save leaves status at error until the
// next save succeeds; the periodic tick is the retry mechanism, there
// is no retry storm.
type Autosaver struct {
	mu        sync.Mutex
	saver     ProgressSaver
	attemptID uuid.UUID
	timeout   time.Duration

	status   SaveStatus
	inFlight bool
	queued   map[uuid.UUID]model.Answer

	onStatus func(SaveStatus)
	wg       sync.WaitGroup
}

// NewAutosaver builds an autosaver for one attempt. onStatus, if
// non-nil, is invoked on every status change without any lock held.
func NewAutosaver(attemptID uuid.UUID, saver ProgressSaver, timeout time.Duration, onStatus func(SaveStatus)) *Autosaver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Autosaver{
		saver:     saver,
		attemptID: attemptID,
		timeout:   timeout,
		status:    SaveStatusIdle,
		onStatus:  onStatus,
	}
}

// Status returns the current observable status.
func (a *Autosaver) Status() SaveStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Request saves the snapshot asynchronously. If a save is already in
// flight the snapshot is queued, replacing any previously queued one,
// and written as soon as the running save returns.
func (a *Autosaver) Request(snapshot map[uuid.UUID]model.Answer) {
	a.mu.Lock()
	if a.inFlight {
		a.queued = snapshot
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	changed := a.setStatusLocked(SaveStatusSaving)
	a.mu.Unlock()

	if changed {
		a.notify(SaveStatusSaving)
	}
	a.wg.Add(1)
	go a.run(snapshot)
}

func (a *Autosaver) run(snapshot map[uuid.UUID]model.Answer) {
	defer a.wg.Done()
	for {
		err := a.save(snapshot)

		next := SaveStatusSaved
		if err != nil {
			next = SaveStatusError
		}

		a.mu.Lock()
		changed := a.setStatusLocked(next)
		if a.queued == nil {
			a.inFlight = false
			a.mu.Unlock()
			if changed {
				a.notify(next)
			}
			return
		}
		snapshot = a.queued
		a.queued = nil
		a.setStatusLocked(SaveStatusSaving)
		a.mu.Unlock()

		if changed {
			a.notify(next)
		}
		a.notify(SaveStatusSaving)
	}
}

func (a *Autosaver) save(snapshot map[uuid.UUID]model.Answer) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.saver.SaveProgress(ctx, a.attemptID, snapshot)
}

// Flush performs one synchronous, best-effort save. Used exactly once
// per attempt, right before finalization; the answer set is already
// frozen at that point, so racing an in-flight periodic save cannot
// leave a stale snapshot behind.
func (a *Autosaver) Flush(ctx context.Context, snapshot map[uuid.UUID]model.Answer) error {
	return a.saver.SaveProgress(ctx, a.attemptID, snapshot)
}

// Wait blocks until any in-flight save has drained. Teardown helper.
func (a *Autosaver) Wait() { a.wg.Wait() }

func (a *Autosaver) setStatusLocked(s SaveStatus) bool {
	if a.status == s {
		return false
	}
	a.status = s
	return true
}

func (a *Autosaver) notify(s SaveStatus) {
	if a.onStatus != nil {
		a.onStatus(s)
	}
}
