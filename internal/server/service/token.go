package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// UploadIDLength is the length of public upload identifiers.
	UploadIDLength = 8
	// DeleteKeyLength is the length of delete keys.
	DeleteKeyLength = 21

	tokenCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	max := big.NewInt(int64(len(tokenCharset)))
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = tokenCharset[n.Int64()]
	}
	return string(result), nil
}
