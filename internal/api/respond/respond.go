// Package respond writes the uniform response envelope shared by every
// handler: {success: true, data: ...} on success, {success: false, error:
// {code, message}} on failure. Clients branch on the code; the message is
// display text and carries no information the code does not.
package respond

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/apperr"
)

// Success writes the success envelope with the given status.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// Error coerces err into a taxonomy error and writes the failure envelope.
// Unclassified errors become INTERNAL; their cause is logged here so a handler
// that forgets to log still leaves a trace, and the client sees only the
// generic message.
func Error(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Code == apperr.CodeInternal && appErr.Err != nil {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", appErr.Err,
		)
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"success": false,
		"error":   appErr,
	})
}
