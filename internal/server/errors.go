package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"idempotent-checkout/internal/service"
	"idempotent-checkout/internal/signer"
)

// AbortWithError writes the client-facing form of err. Driver and transport
// details never reach the response body.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, payload)
}

func mapError(err error) (int, gin.H) {
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, gin.H{"error": "Invalid signature", "reason": signer.Reason(err)}
	case errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest, gin.H{"error": "Invalid payload"}
	case errors.Is(err, service.ErrInvalidOrder):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrOrderNumberTaken):
		return http.StatusConflict, gin.H{"error": "Order number already exists"}
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, gin.H{"error": "Order not found"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, gin.H{"error": "Request cancelled"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Internal server error"}
	}
}
