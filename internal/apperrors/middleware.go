package apperrors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chskio/chsk/internal/logger"
)

// Recovery recovers from a panic in any chsk route handler and reports it
// as a 500 with the same ErrorResponse shape preflight failures use,
// replacing gin's own bare Recovery() middleware.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP().Error().Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error: ErrCodeInternalServer, Message: "an unexpected error occurred", Code: ErrCodeInternalServer,
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
