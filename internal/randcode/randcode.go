package randcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
)

// TokenBytes is the entropy of a redemption token code (128 bits).
const TokenBytes = 16

// Digits returns n uniformly random decimal digits. Leading zeros are kept.
func Digits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("digit count must be positive")
	}
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("read random digit: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Token returns a base58 rendering of TokenBytes random bytes, short enough
// to embed in a QR code.
func Token() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base58.Encode(buf), nil
}

// Fingerprint shortens a secret for log lines.
func Fingerprint(code string) string {
	if len(code) <= 6 {
		return "***"
	}
	return code[:6] + "…"
}
