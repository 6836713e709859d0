package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sentineledu/sentinel-backend/internal/response"
	"github.com/sentineledu/sentinel-backend/internal/service"
)

// CheckSingleDeviceSession validates the JWT's JTI against the active
// session in Redis. If the JTI doesn't match, the request is rejected:
// either a proctor reset the session or a later login superseded it.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.ValidateStudentSession(c.Request.Context(), claims.StudentID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
