package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	refreshSecretSize = 32
	deviceTokenSize   = 32
	oneTimeCodeSize   = 32
)

// NewRefreshSecret returns 32 cryptographically random bytes. Only the
// SHA-256 of the secret is ever persisted; losing the plaintext is permanent.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// NewDeviceToken returns a 256-bit random trusted-device token.
func NewDeviceToken() ([deviceTokenSize]byte, error) {
	var token [deviceTokenSize]byte
	_, err := rand.Read(token[:])
	return token, err
}

// NewOneTimeCode returns a 256-bit random code as base64url text, used to key
// the OAuth exchange cache.
func NewOneTimeCode() (string, error) {
	var raw [oneTimeCodeSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// EncodeSecret renders a raw secret as URL-safe text for the client.
func EncodeSecret(secret [refreshSecretSize]byte) string {
	return base64.RawURLEncoding.EncodeToString(secret[:])
}

// DecodeSecret parses client-presented secret text back into raw bytes.
func DecodeSecret(text string) ([refreshSecretSize]byte, bool) {
	var secret [refreshSecretSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil || len(raw) != refreshSecretSize {
		return secret, false
	}
	copy(secret[:], raw)
	return secret, true
}

// HashSecret is the persistence form of any bearer secret.
func HashSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashSecretText hashes a client-presented secret string, returning false for
// malformed input so lookups fail without revealing why.
func HashSecretText(text string) ([32]byte, bool) {
	secret, ok := DecodeSecret(text)
	if !ok {
		return [32]byte{}, false
	}
	return HashSecret(secret), true
}
