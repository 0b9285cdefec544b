package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. System failures are logged and answered with an
// opaque body; their cause never reaches the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	e, ok := apperr.As(err)
	if status == http.StatusInternalServerError || !ok {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperr.CodeSystem})
		return
	}

	body := gin.H{"error": e.Code, "message": e.Message}
	if e.Field != "" {
		body["field"] = e.Field
	}
	if e.Subject != "" {
		body["subject"] = e.Subject
	}
	c.AbortWithStatusJSON(status, body)
}
