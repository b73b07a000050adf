// Package middleware provides gin middleware for taskd.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/logger"
)

// RequestID extracts X-Request-ID from the request header or generates a new
// one. The ID is stored in the request context and set on the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(constants.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(constants.ContextKeyRequestID, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(constants.HeaderRequestID, id)
		c.Next()
	}
}
