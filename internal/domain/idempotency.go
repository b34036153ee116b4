package domain

import (
	"time"

	"github.com/google/uuid"
)

type IdempotencyRecord struct {
	ID           uuid.UUID
	Key          string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}

// StoredResponse is what a replayed request gets back, verbatim.
type StoredResponse struct {
	StatusCode int
	Body       []byte
}
