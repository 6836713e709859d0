package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentineledu/sentinel-backend/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt row. The unique (exam_id, student_id)
// constraint makes joining idempotent: on conflict the existing row is
// returned unchanged, so a double-join can never reset the clock anchor.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, phase)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at, phase`,
		a.ID, a.ExamID, a.StudentID, model.PhaseActive,
	).Scan(&a.ID, &a.StartedAt, &a.Phase)
	if err == pgx.ErrNoRows {
		existing, getErr := r.GetByExamAndStudent(ctx, a.ExamID, a.StudentID)
		if getErr != nil {
			return getErr
		}
		*a = *existing
		return nil
	}
	return err
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, ended_at, phase,
		        score, warning_count, terminated_for_cause
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.EndedAt, &a.Phase,
		&a.Score, &a.WarningCount, &a.TerminatedForCause)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByExamAndStudent retrieves the attempt for one exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, ended_at, phase,
		        score, warning_count, terminated_for_cause
		 FROM attempts WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.EndedAt, &a.Phase,
		&a.Score, &a.WarningCount, &a.TerminatedForCause)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Finalize writes the terminal state of an attempt: phase, end time,
// score and the final answer set, in one transaction. The phase guard
// in the WHERE clause makes a duplicate finalize a no-op at the
// database level as well.
func (r *AttemptRepository) Finalize(ctx context.Context, rec *model.AttemptRecord, phase model.Phase) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE attempts
		 SET phase = $1, ended_at = $2, score = $3, warning_count = $4,
		     terminated_for_cause = $5
		 WHERE id = $6 AND phase = $7`,
		phase, rec.EndedAt, rec.Score, len(rec.Warnings),
		rec.TerminatedForCause, rec.AttemptID, model.PhaseActive)
	if err != nil {
		return err
	}

	if err := upsertAnswersTx(ctx, tx, rec.AttemptID, rec.Answers); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertAnswers writes an autosaved answer snapshot. Last write wins
// per question; answers outside the snapshot are left untouched.
func (r *AttemptRepository) UpsertAnswers(ctx context.Context, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := upsertAnswersTx(ctx, tx, attemptID, answers); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertAnswersTx(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, answers map[uuid.UUID]model.Answer) error {
	for questionID, ans := range answers {
		payload, err := json.Marshal(ans)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, answer, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (attempt_id, question_id)
			 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
			attemptID, questionID, payload)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetAnswers loads the persisted answer snapshot for an attempt,
// used to seed a rebuilt session after a server restart.
func (r *AttemptRepository) GetAnswers(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[uuid.UUID]model.Answer)
	for rows.Next() {
		var questionID uuid.UUID
		var ans model.Answer
		if err := rows.Scan(&questionID, &ans); err != nil {
			return nil, err
		}
		answers[questionID] = ans
	}
	return answers, rows.Err()
}

// WarningRow is one queued integrity warning awaiting persistence.
type WarningRow struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	Warning   model.Warning `json:"warning"`
}

// InsertWarnings batch-inserts integrity warnings via COPY. Warnings
// are append-only; there is no conflict to handle.
func (r *AttemptRepository) InsertWarnings(ctx context.Context, warnings []WarningRow) error {
	if len(warnings) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"attempt_warnings"},
		[]string{"attempt_id", "kind", "message", "occurred_at"},
		pgx.CopyFromSlice(len(warnings), func(i int) ([]any, error) {
			w := warnings[i]
			return []any{w.AttemptID, w.Warning.Kind, w.Warning.Message, w.Warning.OccurredAt}, nil
		}),
	)
	return err
}

// InsertWarning inserts a single warning row. Fallback path when a
// batch COPY fails and the worker retries row by row.
func (r *AttemptRepository) InsertWarning(ctx context.Context, w WarningRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_warnings (attempt_id, kind, message, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		w.AttemptID, w.Warning.Kind, w.Warning.Message, w.Warning.OccurredAt)
	return err
}

// ListByStudent retrieves all attempts for a given student.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, started_at, ended_at, phase,
		        score, warning_count, terminated_for_cause
		 FROM attempts
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.EndedAt,
			&a.Phase, &a.Score, &a.WarningCount, &a.TerminatedForCause); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
