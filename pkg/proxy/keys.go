package proxy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	apiKeyPrefix = "wts_"
	apiKeyLength = 40
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var apiKeyPattern = regexp.MustCompile(`^wts_[A-Za-z0-9]{40}$`)

// GenerateAPIKey returns a fresh site key of the form
// wts_[A-Za-z0-9]{40}.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}

	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}

	return apiKeyPrefix + string(buf), nil
}

// ValidAPIKey reports whether the bearer token has the site key shape.
func ValidAPIKey(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// newCompletionID builds the chatcmpl-<24 hex> response id.
func newCompletionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken.
		return "chatcmpl-000000000000000000000000"
	}

	return "chatcmpl-" + hex.EncodeToString(buf)
}
