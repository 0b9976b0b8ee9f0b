package codec

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"testing"
)

// --- Helpers ---

func testKey(t *testing.T) Key {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("failed to read random bytes: %v", err)
	}
	return b
}

func encrypt(t *testing.T, plaintext []byte, key Key) []byte {
	t.Helper()
	var sealed bytes.Buffer
	n, err := EncryptStream(context.Background(), &sealed, bytes.NewReader(plaintext), key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if n != int64(len(plaintext)) {
		t.Fatalf("expected %d plaintext bytes counted, got %d", len(plaintext), n)
	}
	return sealed.Bytes()
}

func decrypt(sealed []byte, key Key) ([]byte, error) {
	var plain bytes.Buffer
	_, err := DecryptStream(context.Background(), &plain, bytes.NewReader(sealed), key)
	return plain.Bytes(), err
}

// --- Round trip ---

func TestStreamRoundTrip(t *testing.T) {
	sizes := []int{
		0,
		1,
		ChunkSize - 1,
		ChunkSize,
		ChunkSize + 1,
		2 * ChunkSize,
		3*ChunkSize + 17,
		5 * ChunkSize,
	}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			key := testKey(t)
			plaintext := randomBytes(t, size)

			sealed := encrypt(t, plaintext, key)

			// One tag per full chunk plus one for the (possibly empty) last chunk.
			wantLen := size + (size/ChunkSize+1)*Overhead
			if len(sealed) != wantLen {
				t.Errorf("expected %d ciphertext bytes, got %d", wantLen, len(sealed))
			}

			got, err := decrypt(sealed, key)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Error("round trip produced different plaintext")
			}
		})
	}
}

func TestStreamIsDeterministicForKey(t *testing.T) {
	key := testKey(t)
	plaintext := randomBytes(t, ChunkSize*2+5)

	a := encrypt(t, plaintext, key)
	b := encrypt(t, plaintext, key)
	if !bytes.Equal(a, b) {
		t.Error("same key and nonce should produce identical ciphertext")
	}

	other := testKey(t)
	c := encrypt(t, plaintext, other)
	if bytes.Equal(a, c) {
		t.Error("different keys should produce different ciphertext")
	}
}

// --- Tamper detection ---

func TestStreamDetectsBitFlips(t *testing.T) {
	key := testKey(t)
	plaintext := randomBytes(t, ChunkSize+100)
	sealed := encrypt(t, plaintext, key)

	// Every bit of a two-chunk stream, tags included.
	for i := 0; i < len(sealed); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := bytes.Clone(sealed)
			tampered[i] ^= 1 << bit

			_, err := decrypt(tampered, key)
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("byte %d bit %d: expected ErrAuthentication, got %v", i, bit, err)
			}
		}
	}
}

func TestStreamDetectsTruncation(t *testing.T) {
	key := testKey(t)

	t.Run("drop final chunk", func(t *testing.T) {
		plaintext := randomBytes(t, 2*ChunkSize+10)
		sealed := encrypt(t, plaintext, key)

		truncated := sealed[:2*SealedChunkSize]
		if _, err := decrypt(truncated, key); !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("drop empty final chunk", func(t *testing.T) {
		plaintext := randomBytes(t, 2*ChunkSize)
		sealed := encrypt(t, plaintext, key)

		truncated := sealed[:2*SealedChunkSize]
		if _, err := decrypt(truncated, key); !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("cut inside a chunk", func(t *testing.T) {
		plaintext := randomBytes(t, 3*ChunkSize)
		sealed := encrypt(t, plaintext, key)

		truncated := sealed[:SealedChunkSize+100]
		if _, err := decrypt(truncated, key); !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("non-final chunk presented as final", func(t *testing.T) {
		enc, err := NewEncryptor(key.Key[:], key.Nonce[:])
		if err != nil {
			t.Fatal(err)
		}
		chunk, err := enc.SealNext(nil, randomBytes(t, ChunkSize))
		if err != nil {
			t.Fatal(err)
		}

		dec, err := NewDecryptor(key.Key[:], key.Nonce[:])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := dec.OpenLast(nil, chunk); !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("final chunk presented as non-final", func(t *testing.T) {
		enc, err := NewEncryptor(key.Key[:], key.Nonce[:])
		if err != nil {
			t.Fatal(err)
		}
		chunk, err := enc.SealLast(nil, []byte("tail"))
		if err != nil {
			t.Fatal(err)
		}

		dec, err := NewDecryptor(key.Key[:], key.Nonce[:])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := dec.OpenNext(nil, chunk); !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})
}

func TestStreamDetectsReordering(t *testing.T) {
	key := testKey(t)
	plaintext := randomBytes(t, 3*ChunkSize+1)
	sealed := encrypt(t, plaintext, key)

	reordered := make([]byte, 0, len(sealed))
	reordered = append(reordered, sealed[SealedChunkSize:2*SealedChunkSize]...)
	reordered = append(reordered, sealed[:SealedChunkSize]...)
	reordered = append(reordered, sealed[2*SealedChunkSize:]...)

	if _, err := decrypt(reordered, key); !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestStreamRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	sealed := encrypt(t, []byte("hello world"), key)

	wrong := key
	wrong.Key[0] ^= 0xff
	if _, err := decrypt(sealed, wrong); !errors.Is(err, ErrAuthentication) {
		t.Errorf("wrong key: expected ErrAuthentication, got %v", err)
	}

	wrongNonce := key
	wrongNonce.Nonce[NonceSize-1] ^= 0x01
	if _, err := decrypt(sealed, wrongNonce); !errors.Is(err, ErrAuthentication) {
		t.Errorf("wrong nonce: expected ErrAuthentication, got %v", err)
	}
}

// --- Stream state ---

func TestStreamStateAfterLast(t *testing.T) {
	key := testKey(t)

	enc, err := NewEncryptor(key.Key[:], key.Nonce[:])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.SealLast(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := enc.SealNext(nil, []byte("more")); !errors.Is(err, ErrStreamFinished) {
		t.Errorf("expected ErrStreamFinished, got %v", err)
	}
}

func TestStreamCounterExhausted(t *testing.T) {
	key := testKey(t)

	enc, err := NewEncryptor(key.Key[:], key.Nonce[:])
	if err != nil {
		t.Fatal(err)
	}
	enc.counter = math.MaxUint32

	if _, err := enc.SealNext(nil, []byte("x")); !errors.Is(err, ErrCounterExhausted) {
		t.Errorf("expected ErrCounterExhausted, got %v", err)
	}

	// The last chunk can still use the final counter value.
	enc2, _ := NewEncryptor(key.Key[:], key.Nonce[:])
	enc2.counter = math.MaxUint32
	if _, err := enc2.SealLast(nil, []byte("x")); err != nil {
		t.Errorf("expected last chunk at max counter to seal, got %v", err)
	}
}

func TestNewEncryptorValidatesSizes(t *testing.T) {
	if _, err := NewEncryptor(make([]byte, 16), make([]byte, NonceSize)); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewDecryptor(make([]byte, KeySize), make([]byte, 24)); err == nil {
		t.Error("expected error for full-size nonce")
	}
}

func TestStreamHonorsCancellation(t *testing.T) {
	key := testKey(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sealed bytes.Buffer
	_, err := EncryptStream(ctx, &sealed, bytes.NewReader(randomBytes(t, 4*ChunkSize)), key)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if sealed.Len() != 0 {
		t.Errorf("expected nothing written after cancellation, got %d bytes", sealed.Len())
	}
}

// --- Plain copy ---

func TestCopyChunked(t *testing.T) {
	for _, size := range []int{0, ChunkSize - 1, ChunkSize, 3*ChunkSize + 9} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			data := randomBytes(t, size)
			var out bytes.Buffer

			n, err := CopyChunked(context.Background(), &out, bytes.NewReader(data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != int64(size) {
				t.Errorf("expected %d bytes, got %d", size, n)
			}
			if !bytes.Equal(out.Bytes(), data) {
				t.Error("copied bytes differ")
			}
		})
	}
}
