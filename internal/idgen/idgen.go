// Package idgen mints the prefixed record IDs used across the service:
// esc_ escrows, led_ ledger entries, pay_ payments, alr_ alerts, req_
// request IDs. The prefix makes an ID self-describing in logs and
// support tooling.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
