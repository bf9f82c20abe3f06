package random

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const lowerCaseAlpha = "abcdefghijklmnopqrstuvwxyz"

// Hex returns n random bytes from crypto/rand, hex encoded.
func Hex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LowerCaseAlphaString returns a random string of n lower case letters.
func LowerCaseAlphaString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(lowerCaseAlpha)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = lowerCaseAlpha[idx.Int64()]
	}
	return string(b), nil
}
