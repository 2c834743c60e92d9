// Package cache provides the response cache used to deduplicate identical
// model calls. Keys are derived deterministically from the request, so
// concurrent writers racing on the same key write the same value and
// last-write-wins is safe.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/soundprediction/interrogato/pkg/types"
)

// Cache is a key-value store for model responses. Implementations must
// support concurrent reads and idempotent concurrent writes.
type Cache interface {
	// Get returns the cached value for key, or false when absent.
	Get(key string) ([]byte, bool)

	// Set stores value under key.
	Set(key string, value []byte) error

	// Close releases backend resources.
	Close() error
}

// Key derives a deterministic cache key from the model identifier and the
// full message sequence. Identical prompts with identical parameters always
// map to the same key.
func Key(model string, messages []types.Message) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	enc, _ := json.Marshal(messages)
	h.Write(enc)
	return hex.EncodeToString(h.Sum(nil))
}
