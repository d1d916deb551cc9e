// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var _ engine.Hasher = (*Hasher)(nil)

// Hasher implements engine.Hasher using SHA-256.
type Hasher struct {
	size int
}

// New returns a SHA-256 hasher producing full hex digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher whose digests are cut to n hex characters.
// Snapshot names use a short digest.
func NewTruncated(n int) *Hasher {
	return &Hasher{size: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.size > 0 && h.size < len(digest) {
		digest = digest[:h.size]
	}
	return digest, nil
}
