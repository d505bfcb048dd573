package provisionservice

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultGuestUser is the cloud-init user set on cloned VMs.
const DefaultGuestUser = "root"

// GenerateCredentials returns a fresh guest login. The password is 12 random
// bytes, URL-safe base64 encoded (16 chars).
func GenerateCredentials() (user, password string, err error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate password: %w", err)
	}
	return DefaultGuestUser, base64.RawURLEncoding.EncodeToString(buf), nil
}
