package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// Key is the secret material of one encrypted upload. The key itself is
// handed to the uploader once; only the nonce and HashKey(KeyHex()) are
// persisted.
type Key struct {
	Key   [KeySize]byte
	Nonce [NonceSize]byte
}

// GenerateKey returns a fresh random key and nonce prefix.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k.Key[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, k.Nonce[:]); err != nil {
		return Key{}, fmt.Errorf("generating nonce: %w", err)
	}
	return k, nil
}

// ParseKey decodes a hex key and hex nonce prefix.
func ParseKey(keyHex, nonceHex string) (Key, error) {
	var k Key

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return Key{}, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != KeySize {
		return Key{}, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return Key{}, fmt.Errorf("decoding nonce: %w", err)
	}
	if len(nonce) != NonceSize {
		return Key{}, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	copy(k.Key[:], key)
	copy(k.Nonce[:], nonce)
	return k, nil
}

// KeyHex returns the key as lowercase hex.
func (k Key) KeyHex() string {
	return hex.EncodeToString(k.Key[:])
}

// NonceHex returns the nonce prefix as lowercase hex.
func (k Key) NonceHex() string {
	return hex.EncodeToString(k.Nonce[:])
}

// HashKey returns the lowercase hex SHA-256 digest of a hex-encoded key.
// The digest is taken over the hex string, not the raw key bytes.
func HashKey(keyHex string) string {
	sum := sha256.Sum256([]byte(keyHex))
	return hex.EncodeToString(sum[:])
}

// VerifyKey reports whether keyHex hashes to keyHash.
func VerifyKey(keyHex, keyHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(keyHex)), []byte(keyHash)) == 1
}
