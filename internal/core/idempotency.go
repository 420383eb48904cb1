package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

type eventKeyPayload struct {
	EventID string `json:"event_id"`
	Channel string `json:"channel,omitempty"`
}

// MakeEventKey derives the dedupe key for a chat event. Chat platforms
// redeliver events on slow acks; the same event id in the same channel maps
// to the same key.
func MakeEventKey(eventID, channel string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("event id is required")
	}
	b, err := json.Marshal(eventKeyPayload{EventID: eventID, Channel: strings.TrimSpace(channel)})
	if err != nil {
		return "", fmt.Errorf("marshal event key payload: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// HashText fingerprints command text so a replayed event can be checked
// against the text it was first seen with.
func HashText(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

type IdempotencyConflictError struct {
	Detail string
}

func (e *IdempotencyConflictError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "event id reused with different command text"
}

func (e *IdempotencyConflictError) ErrorCode() string {
	return "idempotency_key_conflict"
}
