package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sentineledu/sentinel-backend/internal/middleware"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/repository"
	"github.com/sentineledu/sentinel-backend/internal/response"
	"github.com/sentineledu/sentinel-backend/internal/service"
	"github.com/sentineledu/sentinel-backend/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	studentRepo *repository.StudentRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, studentRepo *repository.StudentRepository) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		studentRepo: studentRepo,
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates username + password, checks for existing session (rejects if active), returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.studentRepo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(student.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateStudentToken(c.Request.Context(), student.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"student": gin.H{
			"id":       student.ID,
			"username": student.Username,
			"name":     student.Name,
		},
	})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
// Returns the profile of the currently authenticated student.
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.studentRepo.GetByID(c.Request.Context(), claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"student": gin.H{
			"id":       student.ID,
			"username": student.Username,
			"name":     student.Name,
		},
	})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Logs out the currently authenticated student.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	err := h.authService.ResetStudentSession(c.Request.Context(), claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
