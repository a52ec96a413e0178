package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix owns the provider keyspace of list snapshots.
const KeyPrefix = "sbl"

// ListKey returns the provider key of one list's snapshot: sbl:<ns>:<list>.
func ListKey(ns, list string) string {
	var b strings.Builder
	b.Grow(len(KeyPrefix) + len(ns) + len(list) + 2)
	b.WriteString(KeyPrefix)
	b.WriteByte(':')
	b.WriteString(ns)
	b.WriteByte(':')
	b.WriteString(list)
	return b.String()
}

// Redact returns a short stable digest of s for log lines.
func Redact(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
