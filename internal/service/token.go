package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// tokenBytes gives 256 bits of entropy, double the floor required to
// make guessing a live code infeasible within its TTL.
const tokenBytes = 32

// tokenLen is the base64url length of a well-formed token.
const tokenLen = 43 // ceil(32*8/6) without padding

// NewToken returns a cryptographically random redemption token encoded
// with base64url so it embeds safely in a URI scheme.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WellFormedToken reports whether a scanned string even has the shape of
// a token we could have minted. Tokens that fail this are recorded as
// forged in the audit trail (the caller still sees a plain not-found).
func WellFormedToken(token string) bool {
	if len(token) != tokenLen {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// QRPayload builds the deep link the consumer app renders as a QR code.
func QRPayload(scheme string, dealID uuid.UUID, token string) string {
	return fmt.Sprintf("%s://redeem/%s/%s", scheme, dealID, token)
}
