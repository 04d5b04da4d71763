// Package password hashes account passwords with Argon2id.
//
// Encoded hashes use the PHC layout:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Hash strings read back from storage are treated as untrusted input: Verify refuses
// parameters far above the configured cost.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidHash      = errors.New("invalid password hash")
)

const argon2Version = 19

var b64 = base64.RawStdEncoding

// Params is the Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords.
type Hasher struct {
	Params    Params
	MinLength int
	MaxLength int
}

// Default returns an interactive-login baseline.
func Default() Hasher {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}
	return Hasher{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 8,
		MaxLength: 256,
	}
}

// FromEnv overlays TETHER_ARGON2_* and TETHER_PASSWORD_* variables on Default.
func FromEnv() (Hasher, error) {
	h := Default()

	fields := []struct {
		key      string
		min, max uint64
		set      func(uint64)
	}{
		{"TETHER_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(v uint64) { h.Params.MemoryKiB = uint32(v) }},
		{"TETHER_ARGON2_ITERATIONS", 1, 20, func(v uint64) { h.Params.Iterations = uint32(v) }},
		{"TETHER_ARGON2_PARALLELISM", 1, 64, func(v uint64) { h.Params.Parallelism = uint8(v) }},
		{"TETHER_PASSWORD_MIN_LEN", 1, 1024, func(v uint64) { h.MinLength = int(v) }},
		{"TETHER_PASSWORD_MAX_LEN", 1, 4096, func(v uint64) { h.MaxLength = int(v) }},
	}
	for _, f := range fields {
		raw, ok := os.LookupEnv(f.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil || v < f.min || v > f.max {
			return Hasher{}, fmt.Errorf("%s: out of range [%d..%d]", f.key, f.min, f.max)
		}
		f.set(v)
	}

	if h.MinLength > h.MaxLength {
		return Hasher{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", h.MinLength, h.MaxLength)
	}
	return h, nil
}

// Validate checks length policy in runes.
func (h Hasher) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < h.MinLength {
		return ErrPasswordTooShort
	}
	if n > h.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash validates and hashes password.
func (h Hasher) Hash(password string) (string, error) {
	if err := h.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, h.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.Params.Iterations, h.Params.MemoryKiB, h.Params.Parallelism, h.Params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, h.Params.MemoryKiB, h.Params.Iterations, h.Params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded.
// A malformed or out-of-bounds hash returns ErrInvalidHash.
func (h Hasher) Verify(encoded, password string) (bool, error) {
	p, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	if p.MemoryKiB > h.Params.MemoryKiB*2 || p.Iterations > h.Params.Iterations*2 || p.Parallelism > h.Params.Parallelism*2 {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(want))) // #nosec G115 -- bounded by decode.
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	return Params{MemoryKiB: mem, Iterations: it, Parallelism: uint8(par)}, salt, key, nil
}
