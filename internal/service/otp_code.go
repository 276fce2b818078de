package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codeFloor = 100000
	codeSpan  = 900000
)

// GenerateCode returns a 6 digit code drawn uniformly from [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return fmt.Sprintf("%06d", codeFloor+n.Int64()), nil
}
