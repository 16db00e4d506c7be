// Package fingerprint computes content digests for indexed files. The digest
// depends on the file bytes only, so the same image stored at several paths
// (or on several providers) always maps to one digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const HexLen = 64

// Digest streams r through sha256 and returns the lowercase hex digest.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("digest content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
