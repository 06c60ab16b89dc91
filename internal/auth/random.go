package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomIntn returns a uniform random integer in [0, n) from crypto/rand.
func RandomIntn(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random range must be positive, got %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("failed to read random number: %w", err)
	}
	return v.Int64(), nil
}

// RandomString draws length characters uniformly from charset.
func RandomString(charset string, length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		idx, err := RandomIntn(int64(len(charset)))
		if err != nil {
			return "", err
		}
		out[i] = charset[idx]
	}
	return string(out), nil
}
