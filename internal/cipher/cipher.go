// Package cipher implements the caption substitution used by the crypto
// round-trip service. It is a fixed, length-preserving mapping of the
// printable ASCII alphabet onto its reverse; it is not encryption in any
// cryptographic sense.
package cipher

import (
	"errors"
	"strings"
)

type Action string

const (
	ActionEncrypt Action = "encrypt"
	ActionDecrypt Action = "decrypt"
)

var ErrInvalidAction = errors.New("invalid action")

// Alphabet is digits, letters, punctuation and whitespace, in that order.
const Alphabet = "0123456789" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" +
	" \t\n\r\v\f"

var encryptTable, decryptTable [128]byte

func init() {
	for i := range encryptTable {
		encryptTable[i] = byte(i)
		decryptTable[i] = byte(i)
	}
	n := len(Alphabet)
	for i := 0; i < n; i++ {
		plain, ciphered := Alphabet[i], Alphabet[n-1-i]
		encryptTable[plain] = ciphered
		decryptTable[ciphered] = plain
	}
}

// translate maps byte by byte. UTF-8 continuation and lead bytes are never
// below 128, so multi-byte sequences and invalid bytes pass through intact.
func translate(s string, table *[128]byte) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 128 {
			c = table[c]
		}
		b.WriteByte(c)
	}
	return b.String()
}

func Encrypt(s string) string { return translate(s, &encryptTable) }

func Decrypt(s string) string { return translate(s, &decryptTable) }

// Apply runs the transform named by action.
func Apply(action Action, text string) (string, error) {
	switch action {
	case ActionEncrypt:
		return Encrypt(text), nil
	case ActionDecrypt:
		return Decrypt(text), nil
	default:
		return "", ErrInvalidAction
	}
}
