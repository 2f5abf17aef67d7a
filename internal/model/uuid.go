package model

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// GenerateShortID generates a short, URL-safe ID using UUID v4 encoded in base32.
// It names listing sessions and image edit revisions.
func GenerateShortID() string {
	id := uuid.New()
	// 16 bytes -> 26 base32 characters
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
	return strings.ToLower(encoded)
}
