// Package idgen generates crypto-random entity IDs. Every record the API
// hands out carries a typed prefix ("ag_" agency, "cl_" client, "ms_"
// engagement, "msr_" request record, "ao_" add-on, "key_" API key) so IDs
// are self-describing in logs and bug reports.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func mustRead(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped random ID.
func New() string {
	b := mustRead(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 hex chars. The prefix should
// already include its trailing underscore.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(mustRead(12))
}

// Hex returns numBytes of randomness hex-encoded.
func Hex(numBytes int) string {
	return hex.EncodeToString(mustRead(numBytes))
}
