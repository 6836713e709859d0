package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditWorker consumes persist_warnings_queue and batch-inserts
// integrity warnings to PostgreSQL. Warnings arrive in bursts when an
// attempt finalizes, so the COPY batch path is the common case.
type AuditWorker struct {
	attemptRepo *repository.AttemptRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

func NewAuditWorker(attemptRepo *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		attemptRepo: attemptRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "audit_worker").Logger(),
	}
}

func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	buffer := make([]repository.WarningRow, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0] // Clear buffer, keep capacity
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
			// Continue
		}

		// 3. Fetch from Redis
		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistWarningsQueue).Result()

		if err != nil {
			if err == redis.Nil {
				continue // Timeout (Queue empty), loop back to check flush timer
			}
			if ctx.Err() != nil {
				return // Context cancelled
			}
			// Real Redis error (e.g., connection lost)
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		// 4. Process Data
		if len(result) < 2 {
			continue
		}

		var row repository.WarningRow
		if err := json.Unmarshal([]byte(result[1]), &row); err != nil {
			// If JSON is malformed, we CANNOT retry it. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, row)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue
func (w *AuditWorker) flushSafe(ctx context.Context, batch []repository.WarningRow) {
	// Try Fast Path: Bulk Insert
	if err := w.attemptRepo.InsertWarnings(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

		// Fallback Path: Insert one by one
		w.fallbackInsert(ctx, batch)
	}
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []repository.WarningRow) {
	requeueList := make([]repository.WarningRow, 0)

	for _, row := range batch {
		if err := w.attemptRepo.InsertWarning(ctx, row); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", row.AttemptID.String()).
				Msg("Insert failed, requeueing")
			requeueList = append(requeueList, row)
		}
	}

	// If we have items to requeue (DB was down), push them back to Redis
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, items []repository.WarningRow) {
	// Use a pipeline to push everything back quickly
	pipe := w.rdb.Pipeline()
	for _, row := range items {
		data, _ := json.Marshal(row)
		pipe.RPush(ctx, config.WorkerKey.PersistWarningsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Sleep a bit to avoid thrashing if the DB is down hard
		time.Sleep(2 * time.Second)
	}
}

func (w *AuditWorker) shutdown(buffer []repository.WarningRow) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	// Give it 5 seconds to flush to DB
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
