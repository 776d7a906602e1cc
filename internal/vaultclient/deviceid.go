package vaultclient

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/lockbox/internal/auth"
)

// DeviceIDEnv overrides the derived device id when set to 32 hex characters.
const DeviceIDEnv = "LOCKBOX_DEVICE_ID"

const (
	zeroComponent = "00000000000000000000000000000000"
	zeroMAC       = "000000000000"
)

var virtualIfacePrefixes = []string{"lo", "docker", "veth", "br-"}

// hashComponent returns the first 32 hex characters of sha256(v), or zeros
// when v is empty.
func hashComponent(v string) string {
	if v == "" {
		return zeroComponent
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:32]
}

// DeriveDeviceID combines a working directory, hostname and MAC address into
// a stable 32 character device id. The hostname is lowercased and stripped of
// its domain; mac is lowercase hex without separators.
func DeriveDeviceID(workdir, hostname, mac string) string {
	hostname = strings.ToLower(hostname)
	if i := strings.IndexByte(hostname, '.'); i >= 0 {
		hostname = hostname[:i]
	}
	if mac == "" {
		mac = zeroMAC
	}
	combined := hashComponent(workdir) + "|" + hashComponent(hostname) + "|" + mac
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])[:32]
}

// LocalDeviceID returns the device id for this process: the DeviceIDEnv
// override when valid, otherwise one derived from the current directory,
// hostname and first physical MAC address.
func LocalDeviceID() string {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(DeviceIDEnv))); isDeviceID(v) {
		return v
	}
	wd, _ := os.Getwd()
	host, _ := os.Hostname()
	return DeriveDeviceID(wd, host, macAddress())
}

// DeviceToken is the bearer credential of an authorized device.
func DeviceToken(deviceID string) string {
	return auth.HashToken(deviceID)
}

// DefaultDeviceName is "<dir>-<first 8 of id>".
func DefaultDeviceName(workdir, deviceID string) string {
	dir := filepath.Base(filepath.Clean(workdir))
	if dir == "." || dir == string(filepath.Separator) {
		dir = "device"
	}
	return dir + "-" + deviceID[:8]
}

func isDeviceID(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// macAddress prefers physical interfaces and falls back to any interface
// with a hardware address.
func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	var fallback string
	for _, iface := range ifaces {
		mac := strings.ReplaceAll(strings.ToLower(iface.HardwareAddr.String()), ":", "")
		if mac == "" || mac == zeroMAC {
			continue
		}
		if !isVirtual(iface.Name) {
			return mac
		}
		if fallback == "" {
			fallback = mac
		}
	}
	return fallback
}

func isVirtual(name string) bool {
	for _, p := range virtualIfacePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
