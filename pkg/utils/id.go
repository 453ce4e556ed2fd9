package utils

import (
	"github.com/google/uuid"
)

// NewStreamID returns a unique identifier for stream records.
func NewStreamID() string {
	return uuid.NewString()
}
