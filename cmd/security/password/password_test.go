package password

import (
	"errors"
	"testing"
)

func fastHasher() Hasher {
	h := Default()
	h.Params.MemoryKiB = 8 * 1024
	h.Params.Iterations = 1
	h.Params.Parallelism = 1
	return h
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	h := fastHasher()
	enc, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := h.Verify(enc, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify match: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify(enc, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("Verify mismatch: ok=%v err=%v", ok, err)
	}
}

func TestValidateLength(t *testing.T) {
	t.Parallel()

	h := fastHasher()
	h.MinLength, h.MaxLength = 8, 12

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := h.Validate("this one is too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	t.Parallel()

	h := fastHasher()
	cases := []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		if ok, err := h.Verify(enc, "whatever"); !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q): ok=%v err=%v", enc, ok, err)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TETHER_ARGON2_ITERATIONS", "2")
	t.Setenv("TETHER_PASSWORD_MIN_LEN", "10")

	h, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if h.Params.Iterations != 2 || h.MinLength != 10 {
		t.Fatalf("unexpected hasher: %+v", h)
	}

	t.Setenv("TETHER_ARGON2_ITERATIONS", "500")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected range error")
	}
}
