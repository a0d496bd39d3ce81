package main

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// fingerprintFile returns a stable hex-encoded SHA-256 digest of path's
// contents (spec §4.1 step 8: "resolved-binary fingerprint (stable hash
// of the shim binary's own contents)").
func fingerprintFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
