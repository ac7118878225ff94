package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a hash function used for event hashing and
// Merkle construction. The name is recorded on every event and batch
// so verifiers can recompute digests without out-of-band knowledge.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "SHA256"

	// BLAKE3 produces 32-byte BLAKE3 digests.
	BLAKE3 Algorithm = "BLAKE3"

	// SHA3_256 produces 32-byte SHA3-256 digests.
	SHA3_256 Algorithm = "SHA3-256"
)

// Size is the digest size in bytes. All supported algorithms produce
// 32-byte digests.
const Size = 32

// Parse resolves an algorithm name to an Algorithm.
// Names are matched case-insensitively; the empty string means SHA256.
func Parse(name string) (Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA256", "SHA-256":
		return SHA256, nil
	case "BLAKE3":
		return BLAKE3, nil
	case "SHA3-256", "SHA3_256":
		return SHA3_256, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm: %q", name)
	}
}

// New returns a fresh hash.Hash for the algorithm.
// Panics on an unknown algorithm; callers must go through Parse.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	case SHA3_256:
		return sha3.New256()
	default:
		panic("unknown hash algorithm: " + string(a))
	}
}

// Sum computes the digest of data.
func (a Algorithm) Sum(data []byte) [Size]byte {
	switch a {
	case SHA256:
		return sha256.Sum256(data)
	case BLAKE3:
		return blake3.Sum256(data)
	case SHA3_256:
		return sha3.Sum256(data)
	default:
		panic("unknown hash algorithm: " + string(a))
	}
}
