package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/kine-api/internal/handler"
)

// ErrorHandler logs the errors handlers attached to the context and renders
// the last one when no response was written.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			status, _ := handler.ErrorStatus(e.Err)
			event := log.Warn()
			if status >= 500 {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}
		status, resp := handler.ErrorStatus(c.Errors.Last().Err)
		c.JSON(status, resp)
	}
}
