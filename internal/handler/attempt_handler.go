package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentineledu/sentinel-backend/internal/middleware"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/proctor"
	"github.com/sentineledu/sentinel-backend/internal/response"
	"github.com/sentineledu/sentinel-backend/internal/service"
	"github.com/sentineledu/sentinel-backend/internal/validator"
)

// AttemptHandler handles the student-facing REST surface of exam
// attempts. The live event stream rides the WebSocket handler; these
// endpoints cover joining, reload recovery and fallback writes.
type AttemptHandler struct {
	attemptService *service.AttemptService
	examService    *service.ExamService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, examService *service.ExamService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		examService:    examService,
	}
}

// failAttemptErr maps attempt domain errors onto response codes.
func failAttemptErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrExamNotOpen):
		response.Fail(c, http.StatusBadRequest, response.ErrExamNotOpen)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidEntryToken)
	case errors.Is(err, proctor.ErrAttemptClosed):
		response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
	case errors.Is(err, proctor.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	case errors.Is(err, proctor.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, proctor.ErrNotFinalized):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// JoinExam godoc
// POST /api/v1/student/attempts/join
// Resolves the entry token and creates or resumes an attempt (idempotent).
func (h *AttemptHandler) JoinExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.JoinExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.JoinExam(c.Request.Context(), claims.StudentID, req.EntryToken)
	if err != nil {
		failAttemptErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListAttempts godoc
// GET /api/v1/student/attempts
// Returns the student's attempts, newest first.
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListByStudent(c.Request.Context(), claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetExamPaper godoc
// GET /api/v1/student/attempts/:attempt_id/paper
// Returns the cached exam payload (no correct answers).
// SECURITY: ownership is checked through the attempt, preventing IDOR.
func (h *AttemptHandler) GetExamPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil {
		failAttemptErr(c, err)
		return
	}

	payload, err := h.examService.GetExamPayload(c.Request.Context(), attempt.ExamID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetState godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Returns the observable attempt snapshot. Covers page reload: the
// client re-renders answers, flags, warnings and remaining time from
// this response alone.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil {
		failAttemptErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SubmitAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
// REST fallback for writing one answer when the WebSocket is down.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ans := model.Answer{Value: req.Value, Selections: req.Selections}
	if err := h.attemptService.SubmitAnswer(c.Request.Context(), attemptID, claims.StudentID, questionID, ans); err != nil {
		failAttemptErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes the attempt at the student's request.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.StudentID); err != nil {
		failAttemptErr(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "submitting"})
}

// RetrySubmit godoc
// POST /api/v1/student/attempts/:attempt_id/retry-submit
// Re-attempts a failed finalize with the preserved record.
func (h *AttemptHandler) RetrySubmit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.RetrySubmit(c.Request.Context(), attemptID, claims.StudentID); err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) || errors.Is(err, service.ErrNotAttemptOwner) || errors.Is(err, proctor.ErrNotFinalized) {
			failAttemptErr(c, err)
			return
		}
		// The finalize write itself failed again.
		response.Fail(c, http.StatusBadGateway, response.ErrSubmitFailed)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "submitted"})
}
