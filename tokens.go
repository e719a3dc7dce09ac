package microauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateSecureToken returns 32 random bytes hex encoded to 64 characters.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// newIdentityID returns a fresh identity id of the form user_<uuid>.
func newIdentityID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate identity id: %w", err)
	}
	return "user_" + id.String(), nil
}
