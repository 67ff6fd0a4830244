package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// MinPasswordLength is the floor for generated passwords
	MinPasswordLength = 24

	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}<>?"
)

var passwordCharset = lowerChars + upperChars + digitChars + symbolChars

// GeneratePassword returns a cryptographically random password of the
// given length (raised to MinPasswordLength if shorter) containing at
// least one character from each class: lower, upper, digit, symbol.
func GeneratePassword(length int) (string, error) {
	if length < MinPasswordLength {
		length = MinPasswordLength
	}

	// One guaranteed pick per class, the rest from the full charset
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	out := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(passwordCharset)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed picks are not predictably placed
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to shuffle password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}

	return string(out), nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate password: %w", err)
	}
	return charset[n.Int64()], nil
}
