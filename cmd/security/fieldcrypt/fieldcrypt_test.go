package fieldcrypt

import (
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	k, err := GenerateKeyHex()
	if err != nil {
		t.Fatalf("GenerateKeyHex: %v", err)
	}
	c, err := NewFromHex(k)
	if err != nil {
		t.Fatalf("NewFromHex: %v", err)
	}
	return c
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)

	for _, pt := range []string{"", "01HZY3K6S9M2Q8W7B5N4C3D2E1", "2025-01-01T00:00:00.000000001Z"} {
		ct, err := c.Seal(pt)
		if err != nil {
			t.Fatalf("Seal(%q): %v", pt, err)
		}
		if pt != "" && strings.Contains(ct, pt) {
			t.Fatalf("ciphertext leaks plaintext")
		}
		got, err := c.Open(ct)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != pt {
			t.Fatalf("Open=%q want=%q", got, pt)
		}
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a == b {
		t.Fatalf("expected distinct ciphertexts for equal plaintexts")
	}
}

func TestOpenRejectsTamperingAndForeignKeys(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)
	other := newTestCipher(t)

	ct, _ := c.Seal("head-pointer")
	raw, _ := b64.DecodeString(ct)
	raw[len(raw)-1] ^= 0xff
	tampered := b64.EncodeToString(raw)

	cases := map[string]struct {
		c  *Cipher
		ct string
	}{
		"tampered":    {c: c, ct: tampered},
		"foreign key": {c: other, ct: ct},
		"not base64":  {c: c, ct: "%%%"},
		"too short":   {c: c, ct: b64.EncodeToString([]byte("abc"))},
	}
	for name, tc := range cases {
		if _, err := tc.c.Open(tc.ct); !errors.Is(err, ErrCiphertext) {
			t.Fatalf("%s: expected ErrCiphertext, got %v", name, err)
		}
	}
}

func TestNewFromHexValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewFromHex(""); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := NewFromHex("zz"); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
	if _, err := NewFromHex("abcd"); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for short key, got %v", err)
	}
}
