package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// DefaultTokenBytes yields 32 url-safe characters, enough entropy for
// unguessable email tracking tokens.
const DefaultTokenBytes = 24

// NewTrackingToken returns a random url-safe token for receipt open/click
// tracking links.
func NewTrackingToken() (string, error) {
	return NewToken(DefaultTokenBytes)
}

// NewToken returns a random url-safe token of n source bytes.
func NewToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SecureCompare reports whether two secrets match without leaking timing
// information. Used for static webhook header tokens.
func SecureCompare(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
