package codec

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Key == b.Key {
		t.Error("expected distinct keys")
	}
	if a.Nonce == b.Nonce {
		t.Error("expected distinct nonces")
	}
	if len(a.KeyHex()) != 2*KeySize {
		t.Errorf("expected %d hex chars, got %d", 2*KeySize, len(a.KeyHex()))
	}
	if len(a.NonceHex()) != 2*NonceSize {
		t.Errorf("expected %d hex chars, got %d", 2*NonceSize, len(a.NonceHex()))
	}
	if a.KeyHex() != strings.ToLower(a.KeyHex()) {
		t.Error("expected lowercase hex")
	}
}

func TestParseKey(t *testing.T) {
	t.Run("round trips generated key", func(t *testing.T) {
		key, _ := GenerateKey()

		parsed, err := ParseKey(key.KeyHex(), key.NonceHex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if parsed != key {
			t.Error("parsed key differs from original")
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		key, _ := GenerateKey()
		cases := []struct {
			name  string
			key   string
			nonce string
		}{
			{"non-hex key", "zz", key.NonceHex()},
			{"short key", "abcd", key.NonceHex()},
			{"non-hex nonce", key.KeyHex(), "xyz"},
			{"short nonce", key.KeyHex(), "abcd"},
		}
		for _, tc := range cases {
			if _, err := ParseKey(tc.key, tc.nonce); err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
		}
	})
}

func TestHashKey(t *testing.T) {
	// Digest pair stored by existing deployments.
	const (
		keyHex  = "7888acd752f412fd1736861405041fa0d4be99733715bf7a3185a698454bbeb6"
		keyHash = "8882d9c8f120896dd013f528362bac298fc8f14c2f6608c6c5db5fa8e14f2e8e"
	)

	if got := HashKey(keyHex); got != keyHash {
		t.Errorf("expected %s, got %s", keyHash, got)
	}
	if !VerifyKey(keyHex, keyHash) {
		t.Error("expected key to verify")
	}
	if VerifyKey("abc", keyHash) {
		t.Error("expected wrong key to fail verification")
	}
	if VerifyKey(keyHex, "") {
		t.Error("expected empty hash to fail verification")
	}
}

func TestParsedKeyDecryptsStream(t *testing.T) {
	key, _ := GenerateKey()
	plaintext := []byte("hello world")

	var sealed bytes.Buffer
	if _, err := EncryptStream(context.Background(), &sealed, bytes.NewReader(plaintext), key); err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseKey(key.KeyHex(), key.NonceHex())
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := DecryptStream(context.Background(), &out, &sealed, parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", out.String())
	}
}
