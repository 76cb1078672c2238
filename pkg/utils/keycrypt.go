package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"runtime"
	"strings"
)

// ObfuscatedPrefix marks an API key stored in obfuscated form.
const ObfuscatedPrefix = "ENC:"

// machineID derives a stable per-machine string from the first hardware
// interface address, falling back to OS and architecture when no interface
// is available. The value only needs to be stable, not secret.
func machineID() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if len(iface.HardwareAddr) > 0 {
				return iface.HardwareAddr.String()
			}
		}
	}
	return runtime.GOOS + "-" + runtime.GOARCH
}

func xorWithMachineSalt(data []byte) []byte {
	digest := sha256.Sum256([]byte(machineID()))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ digest[i%len(digest)]
	}
	return out
}

// ObfuscateKey converts a plaintext API key to its stored form. Obfuscation
// keeps the key out of casual reads of config.json; it is not encryption.
// Already-obfuscated and empty values pass through unchanged.
func ObfuscateKey(key string) string {
	if key == "" || strings.HasPrefix(key, ObfuscatedPrefix) {
		return key
	}
	encoded := base64.StdEncoding.EncodeToString(xorWithMachineSalt([]byte(key)))
	return ObfuscatedPrefix + encoded
}

// DeobfuscateKey converts a stored API key back to plaintext. Three stored
// forms exist: the current ENC: form, a legacy base64 "key:machine" form,
// and raw plaintext from hand-edited configs. Undecodable values yield "".
func DeobfuscateKey(stored string) string {
	if stored == "" {
		return ""
	}
	if strings.HasPrefix(stored, ObfuscatedPrefix) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, ObfuscatedPrefix))
		if err != nil {
			return ""
		}
		return string(xorWithMachineSalt(raw))
	}
	if strings.Contains(stored, ":") {
		head := strings.SplitN(stored, ":", 2)[0]
		if raw, err := base64.StdEncoding.DecodeString(head); err == nil {
			return string(raw)
		}
	}
	return stored
}
