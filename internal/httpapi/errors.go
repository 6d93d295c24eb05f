package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/gin-gonic/gin"
)

// bindJSON decodes the request body into v, writing the appropriate
// error response itself (413 for a body-size overflow, 400 for any
// other malformed-request error) and reporting false so the caller can
// bail out without writing a second response.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		// A syntax error in the first bytes can surface before the
		// decoder reaches the limit, so drain the rest of the body to
		// learn whether it was oversized.
		_, drainErr := io.Copy(io.Discard, c.Request.Body)
		overLimit := drainErr != nil && strings.Contains(drainErr.Error(), "http: request body too large")
		if overLimit || strings.Contains(err.Error(), "http: request body too large") {
			maxBytes, _ := c.Get(maxBodyBytesKey)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds limit", "max_bytes": maxBytes})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// writeError maps err to a status via flmerr.StatusFor when it carries
// a structured code, falling back to 400 for any plain error, whether it
// comes from the request itself or from loading the model's files.
func writeError(c *gin.Context, err error) {
	if fe, ok := flmerr.As(err); ok {
		c.JSON(flmerr.StatusFor(fe.Code), gin.H{"error": fe.Message})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeBusy reports 503 when the accelerator is busy and the deferral
// queue is also full.
func writeBusy(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}
