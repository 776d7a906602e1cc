package vaultclient

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveDeviceID_Deterministic(t *testing.T) {
	a := DeriveDeviceID("/srv/app", "build-01.example.com", "0242ac110002")
	b := DeriveDeviceID("/srv/app", "BUILD-01", "0242ac110002")

	assert.Equal(t, a, b, "hostname is lowercased and loses its domain")
	assert.Len(t, a, 32)
	assert.True(t, isDeviceID(a))

	assert.NotEqual(t, a, DeriveDeviceID("/srv/other", "build-01", "0242ac110002"))
	assert.NotEqual(t, a, DeriveDeviceID("/srv/app", "build-01", ""))
}

func TestDeriveDeviceID_Composition(t *testing.T) {
	sum := sha256.Sum256([]byte(hashComponent("/w") + "|" + zeroComponent + "|" + zeroMAC))
	assert.Equal(t, hex.EncodeToString(sum[:])[:32], DeriveDeviceID("/w", "", ""))
}

func TestLocalDeviceID_EnvOverride(t *testing.T) {
	t.Setenv(DeviceIDEnv, "  ABCDEF0123456789ABCDEF0123456789 ")
	assert.Equal(t, "abcdef0123456789abcdef0123456789", LocalDeviceID())

	t.Setenv(DeviceIDEnv, "too-short")
	id := LocalDeviceID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, "too-short", id)
}

func TestDeviceToken(t *testing.T) {
	tok := DeviceToken("0123456789abcdef0123456789abcdef")
	assert.Len(t, tok, 64)
}

func TestDefaultDeviceName(t *testing.T) {
	assert.Equal(t, "app-01234567", DefaultDeviceName("/srv/app/", "0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "device-01234567", DefaultDeviceName("/", "0123456789abcdef0123456789abcdef"))
}
