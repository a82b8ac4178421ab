package randcode

import (
	"testing"

	"github.com/mr-tron/base58"
)

func TestDigitsLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Digits(6)
		if err != nil {
			t.Fatalf("digits: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := Digits(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestTokenIsUniqueAndDecodesTo128Bits(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := Token()
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = struct{}{}
		raw, err := base58.Decode(tok)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(raw) > TokenBytes {
			t.Fatalf("expected at most %d bytes, got %d", TokenBytes, len(raw))
		}
	}
}

func TestFingerprintNeverReturnsWholeSecret(t *testing.T) {
	if got := Fingerprint("123456"); got != "***" {
		t.Fatalf("short secret leaked: %q", got)
	}
	if got := Fingerprint("5Kd3NBUAdUnhyzenEwVLy9"); got != "5Kd3NB…" {
		t.Fatalf("unexpected fingerprint %q", got)
	}
}
