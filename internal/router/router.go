package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/handler"
	"github.com/sentineledu/sentinel-backend/internal/middleware"
	"github.com/sentineledu/sentinel-backend/internal/response"
	"github.com/sentineledu/sentinel-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.POST("/attempts/join", handlers.Attempt.JoinExam)
		studentAPI.GET("/attempts", handlers.Attempt.ListAttempts)
		studentAPI.GET("/attempts/:attempt_id/paper", middleware.CacheControl(60), handlers.Attempt.GetExamPaper)
		studentAPI.GET("/attempts/:attempt_id/state", handlers.Attempt.GetState)
		studentAPI.POST("/attempts/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		studentAPI.POST("/attempts/:attempt_id/retry-submit", handlers.Attempt.RetrySubmit)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Ops Group (JWT) ────────────────────────────────────────────
	opsAPI := router.Group("/api/v1/ops")
	opsAPI.Use(middleware.RequireStudentJWT(authService))
	{
		opsAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
