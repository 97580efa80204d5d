package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	verifierBytes = 32
	csrfBytes     = 16

	ChallengeMethodS256 = "S256"
)

// newVerifier returns a 43 character RFC 7636 code verifier.
func newVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cannot generate code verifier: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newCSRFToken() (string, error) {
	buf := make([]byte, csrfBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cannot generate csrf token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
