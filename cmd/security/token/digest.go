package token

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestKeyEnv names the optional hex key for rotation digests.
// #nosec G101 -- env var name.
const DigestKeyEnv = "TETHER_DIGEST_KEY_HEX"

const digestKeySize = 32

// Digester derives stable keys for credential pairs.
type Digester struct {
	key []byte
}

// NewDigester builds a Digester from a 32-byte key.
func NewDigester(key []byte) (*Digester, error) {
	if len(key) != digestKeySize {
		return nil, ErrDigestKey
	}
	k := make([]byte, digestKeySize)
	copy(k, key)
	return &Digester{key: k}, nil
}

// DigesterFromEnv reads DigestKeyEnv, or generates a per-process key when it is unset.
// A per-process key is enough because the rotation cache never outlives the process.
func DigesterFromEnv() (*Digester, error) {
	raw := strings.TrimSpace(os.Getenv(DigestKeyEnv))
	if raw == "" {
		k := make([]byte, digestKeySize)
		if _, err := rand.Read(k); err != nil {
			return nil, err
		}
		return NewDigester(k)
	}
	k, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrDigestKey
	}
	return NewDigester(k)
}

// PairDigest returns the hex keyed BLAKE3 digest of (access, refresh).
// The inputs are length-prefixed so ("ab","c") and ("a","bc") never collide.
func (d *Digester) PairDigest(access, refresh string) string {
	h, err := blake3.NewKeyed(d.key)
	if err != nil {
		// Key length is validated in NewDigester.
		panic(err)
	}
	writeField(h, access)
	writeField(h, refresh)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	l := uint64(len(s))
	for i := range n {
		n[i] = byte(l >> (8 * i))
	}
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}
