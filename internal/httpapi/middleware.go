package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes is the request body cap; payloads over this are
// rejected with 413 when the handler's bindJSON reads past it.
const DefaultMaxBodyBytes = 256 << 20

// maxBodyBytesKey stashes the configured limit on the request context
// so bindJSON can report it in a 413 body without threading it through
// every handler signature.
const maxBodyBytesKey = "flm.max_body_bytes"

// bodyLimitMiddleware wraps the request body in http.MaxBytesReader so
// a read past maxBytes fails fast instead of letting an oversized
// upload run the accelerator queue out of memory. The actual 413
// response is written by bindJSON, once it sees the resulting read
// error.
func bodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Set(maxBodyBytesKey, maxBytes)
		c.Next()
	}
}

// corsMiddleware applies the fixed CORS headers to every response and
// short-circuits preflight OPTIONS requests with a bare 200.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
