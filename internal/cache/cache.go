package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Store is short-lived keyed storage with an atomic insert
type Store interface {
	SetIfAbsent(key string, value []byte, ttl time.Duration) bool
}

// Key generates a namespaced cache key from its parts
func Key(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "uhmm:v1:" + namespace + ":" + hex.EncodeToString(hash[:])
}
