package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewSessionToken returns an unpredictable 32-character hex token.
func NewSessionToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
