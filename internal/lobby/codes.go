package lobby

import (
	"crypto/rand"
	"fmt"
)

// CodeAlphabet leaves out I, O, 0 and 1 so codes can be read aloud and typed back.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 6

// NewCode samples CodeLength symbols uniformly from CodeAlphabet.
func NewCode() (string, error) {
	var buf [CodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	// 256 is a multiple of 32, so masking keeps every symbol equally likely.
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)&(len(CodeAlphabet)-1)]
	}
	return string(buf[:]), nil
}

// ValidCode reports whether code could have been produced by NewCode.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !inAlphabet(code[i]) {
			return false
		}
	}
	return true
}

func inAlphabet(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return c != 'I' && c != 'O'
	case c >= '2' && c <= '9':
		return true
	}
	return false
}
