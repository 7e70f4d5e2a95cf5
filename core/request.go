package core

import (
	"time"

	"github.com/google/uuid"
)

// Request is a single unit of user input. It is created once at ingress and
// treated as an immutable value afterwards.
type Request struct {
	Text          string    // Raw user text
	ReceivedAt    time.Time // Ingress timestamp
	CorrelationID string    // Stable identifier used across logs, payloads and memory
	CallerID      string    // Rate limiting key; empty means anonymous
}

// NewRequest constructs a Request stamped with the current time and a fresh
// correlation id.
func NewRequest(text, callerID string) Request {
	return Request{
		Text:          text,
		ReceivedAt:    time.Now(),
		CorrelationID: uuid.NewString(),
		CallerID:      callerID,
	}
}
