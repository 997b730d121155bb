package media

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the content fingerprint length in bytes (32 hex characters).
const DigestSize = 16

// Hash returns the content fingerprint of b.
func Hash(b []byte) string {
	h := newHasher()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile fingerprints a file on disk without loading it whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := newHasher()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newHasher() interface {
	io.Writer
	Sum([]byte) []byte
} {
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		// only fails for sizes outside 1..64 or oversized keys
		panic(fmt.Sprintf("media: blake2b init: %v", err))
	}
	return h
}
