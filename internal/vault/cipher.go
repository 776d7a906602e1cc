package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100000
	keyLength     = 32
)

// kdfSalt is fixed: every secret shares one derived key, and the master key
// is the high-entropy input.
var kdfSalt = []byte("lockbox.vault.kdf.salt.v1")

var (
	// ErrEncryptionFailure is returned when a value cannot be sealed or opened.
	// A failed open means the stored ciphertext or the master key is wrong.
	ErrEncryptionFailure = errors.New("encryption failure")
	ErrInvalidMasterKey  = errors.New("master key must be 64 hex characters")
)

// Cipher seals values with AES-256-GCM under a key derived once from the master key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the data key from a hex-encoded 32-byte master key.
func NewCipher(masterKeyHex string) (*Cipher, error) {
	master, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(master) != keyLength {
		return nil, ErrInvalidMasterKey
	}

	key := pbkdf2.Key(master, kdfSalt, kdfIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: read nonce: %v", ErrEncryptionFailure, err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	nonceLen := c.aead.NonceSize()
	if len(ciphertext) < nonceLen+c.aead.Overhead() {
		slog.Error("ciphertext too short", "length", len(ciphertext))
		return "", fmt.Errorf("%w: ciphertext corrupted", ErrEncryptionFailure)
	}

	plaintext, err := c.aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		slog.Error("secret decryption failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	return string(plaintext), nil
}
