package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentineledu/sentinel-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, entry_token, scheduled_start,
		        scheduled_end, status, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.EntryToken, &e.ScheduledStart,
		&e.ScheduledEnd, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByEntryToken retrieves a published exam by its entry token.
func (r *ExamRepository) GetByEntryToken(ctx context.Context, token string) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, entry_token, scheduled_start,
		        scheduled_end, status, created_at, updated_at
		 FROM exams WHERE entry_token = $1 AND status = $2`,
		token, model.ExamStatusPublished,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.EntryToken, &e.ScheduledStart,
		&e.ScheduledEnd, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetDefinition retrieves the exam row plus its ordered questions,
// correct answers included. This is the view a live session runs
// against; it must never be serialized to students directly.
func (r *ExamRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	exam, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, text, type, options, points, correct, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	def := &model.ExamDefinition{Exam: *exam}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &q.Type, &q.Options,
			&q.Points, &q.Correct, &q.OrderNum); err != nil {
			return nil, err
		}
		def.Questions = append(def.Questions, q)
	}
	return def, rows.Err()
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, duration_minutes, entry_token, scheduled_start,
		        scheduled_end, status, created_at, updated_at
		 FROM exams WHERE status = $1
		 ORDER BY created_at DESC`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.EntryToken,
			&e.ScheduledStart, &e.ScheduledEnd, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
