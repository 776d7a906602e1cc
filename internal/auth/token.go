package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	// TokenLength is the length of generated master and project tokens.
	TokenLength = 32
	// DeviceTokenLength is the length of sha256(device_id) in hex.
	DeviceTokenLength = 64

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maskFiller    = "•"
)

// HashToken returns the lowercase hex SHA-256 of raw.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns a random alphanumeric token of TokenLength characters.
func GenerateToken() (string, error) {
	var b strings.Builder
	b.Grow(TokenLength)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < TokenLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// MaskToken returns the display form of a credential: first four and last
// four characters with the middle replaced. Values of eight characters or
// fewer are masked completely.
func MaskToken(raw string) string {
	n := len(raw)
	if n <= 8 {
		return strings.Repeat(maskFiller, n)
	}
	return raw[:4] + strings.Repeat(maskFiller, n-8) + raw[n-4:]
}

// IsDeviceTokenShape reports whether s looks like sha256(device_id): 64 hex characters.
func IsDeviceTokenShape(s string) bool {
	if len(s) != DeviceTokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
