package util

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateRandomString returns n characters of cryptographically random
// alphanumeric text.
func GenerateRandomString(n int) string {
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			panic("random number generation failed")
		}
		ret[i] = alphabet[num.Int64()]
	}
	return string(ret)
}
