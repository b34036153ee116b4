package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxWebhookBodyBytes caps what an unauthenticated caller can make us buffer.
const MaxWebhookBodyBytes = 1 << 20

// receivePaymentWebhook hands the body to verification untouched: the
// signature covers the exact bytes.
func (s *Server) receivePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := s.webhooks.Receive(c.Request.Context(), c.GetHeader(s.signatureHeader), body); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
