package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl sets a private Cache-Control header. Used on the exam
// paper endpoint: the paper never changes during an attempt, but the
// response is per-student and must not land in shared caches.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}
