package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateServiceSecrets generates the JWT signing secret and the webhook
// signing secret shared with the payment provider
func GenerateServiceSecrets() (jwtSecret, webhookSecret string, err error) {
	jwtSecret, err = GenerateSecret(32) // 256-bit
	if err != nil {
		return "", "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	webhookSecret, err = GenerateSecret(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	return jwtSecret, "whsec_" + webhookSecret, nil
}
