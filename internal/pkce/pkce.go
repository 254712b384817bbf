// Package pkce generates Proof Key for Code Exchange parameters for the
// passport authorization handshake.
package pkce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// verifierBytes is the amount of entropy behind each verifier (64 hex chars).
const verifierBytes = 32

// Params is one login attempt's PKCE triple. It is never persisted.
//
// State doubles as the code verifier: the passport service echoes state back
// to the editor callback and expects the same value as the verifier.
type Params struct {
	State         string `json:"state"`
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// Generate returns a fresh triple drawn from crypto/rand.
func Generate() (Params, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return Params{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	state := hex.EncodeToString(buf)

	return Params{
		State:         state,
		CodeVerifier:  state,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(state),
	}, nil
}
