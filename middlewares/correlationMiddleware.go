package middlewares

import (
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const correlationIdHeader = "X-Correlation-Id"

// CorrelationIdMiddleware propagates the caller's correlation id, minting one
// when absent, so outbox events and logs can be traced back to a request.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get(correlationIdHeader)
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(correlationIdHeader, correlationId)
		c.Next()
	}
}
