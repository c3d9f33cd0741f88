package token

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRandomString returns a hex string of n random bytes.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
