package fault

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WriteHTTP renders err as a JSON error response. Classified errors carry
// their own status and reason; anything else is a 500 with a generic body so
// internals never leak to callers.
func WriteHTTP(c *gin.Context, err error) {
	if fe, ok := As(err); ok {
		c.JSON(fe.Status(), gin.H{"error": fe.Reason, "message": fe.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
}
