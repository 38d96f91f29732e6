package relationship

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeLength is the length of an invite code.
const CodeLength = 8

// Uppercase letters and digits without the look-alikes I, O, 0 and 1.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random invite code.
func NewCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, CodeLength)
	for i := range code {
		position, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[position.Int64()]
	}
	return string(code), nil
}

// NormalizeCode brings user input into the stored code form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
