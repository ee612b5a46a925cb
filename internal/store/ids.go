package store

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const idPrefix = "tl-"

// NormalizeTaskID ensures a task ID has the tl- prefix
// Accepts bare hex IDs like "abc123" and returns "tl-abc123"
func NormalizeTaskID(id string) string {
	if id == "" {
		return id
	}
	if !strings.HasPrefix(id, idPrefix) {
		return idPrefix + id
	}
	return id
}

// generateID generates a unique local task ID
func generateID() (string, error) {
	bytes := make([]byte, 4) // 8 hex characters - local keyspace only
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return idPrefix + hex.EncodeToString(bytes), nil
}

// generateCorrelationID generates a correlation ID.
// Correlation IDs travel to the server and must be unique across devices,
// so they get a full 16 bytes of entropy.
func generateCorrelationID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
