package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/core/apperror"
)

// BodyLimit rejects bodies larger than max bytes. Declared lengths are
// refused up front; streamed bodies fail when the reader crosses max.
func BodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			_ = c.Error(apperror.NewTooLarge(int(max)))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
