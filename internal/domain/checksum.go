package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// CalculateFileHash generates the SHA-256 fingerprint of a deliverable.
// Published objects carry it as metadata.
func CalculateFileHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
