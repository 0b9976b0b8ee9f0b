// Package codec implements the chunked authenticated encryption used for
// stored uploads.
//
// A plaintext stream is cut into ChunkSize pieces and every piece is sealed
// with XChaCha20-Poly1305 under one key. The 24-byte nonce of each chunk is
//
//	[prefix: 19 bytes] [counter: 4 bytes, big-endian] [last: 1 byte]
//
// The counter starts at zero and advances by one per chunk. The final chunk
// is sealed with last = 1, so dropping, reordering or appending chunks
// fails authentication on the decrypting side.
//
// The counter is 32 bits wide, which caps a stream at 2^32 chunks
// (about 8 TiB at the default chunk size).
package codec

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ChunkSize is the plaintext size of every chunk but the last.
	ChunkSize = 2048

	// Overhead is the Poly1305 tag appended to every sealed chunk.
	Overhead = chacha20poly1305.Overhead

	// SealedChunkSize is the ciphertext size of every chunk but the last.
	SealedChunkSize = ChunkSize + Overhead

	// KeySize is the size of a stream key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size of the per-stream nonce prefix.
	NonceSize = chacha20poly1305.NonceSizeX - 5
)

var (
	ErrAuthentication   = errors.New("chunk authentication failed")
	ErrCounterExhausted = errors.New("chunk counter exhausted")
	ErrStreamFinished   = errors.New("stream already finished")
)

// stream holds the cipher state shared by Encryptor and Decryptor.
type stream struct {
	aead     cipher.AEAD
	nonce    [chacha20poly1305.NonceSizeX]byte
	counter  uint32
	finished bool
}

func newStream(key, nonce []byte) (stream, error) {
	if len(key) != KeySize {
		return stream{}, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return stream{}, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return stream{}, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	s := stream{aead: aead}
	copy(s.nonce[:NonceSize], nonce)
	return s, nil
}

// next returns the nonce for the current chunk and advances the counter.
func (s *stream) next(last bool) ([]byte, error) {
	if s.finished {
		return nil, ErrStreamFinished
	}

	binary.BigEndian.PutUint32(s.nonce[NonceSize:NonceSize+4], s.counter)
	if last {
		s.nonce[len(s.nonce)-1] = 1
		s.finished = true
	} else {
		if s.counter == math.MaxUint32 {
			return nil, ErrCounterExhausted
		}
		s.nonce[len(s.nonce)-1] = 0
		s.counter++
	}
	return s.nonce[:], nil
}

// Encryptor seals the chunks of one stream. It must not be shared between
// streams or goroutines.
type Encryptor struct {
	stream
}

// NewEncryptor creates an Encryptor for the given key and nonce prefix.
func NewEncryptor(key, nonce []byte) (*Encryptor, error) {
	s, err := newStream(key, nonce)
	if err != nil {
		return nil, err
	}
	return &Encryptor{stream: s}, nil
}

// SealNext appends the sealed form of a non-final chunk to dst.
func (e *Encryptor) SealNext(dst, chunk []byte) ([]byte, error) {
	return e.seal(dst, chunk, false)
}

// SealLast appends the sealed form of the final chunk to dst. The chunk
// may be empty.
func (e *Encryptor) SealLast(dst, chunk []byte) ([]byte, error) {
	return e.seal(dst, chunk, true)
}

func (e *Encryptor) seal(dst, chunk []byte, last bool) ([]byte, error) {
	nonce, err := e.next(last)
	if err != nil {
		return nil, err
	}
	return e.aead.Seal(dst, nonce, chunk, nil), nil
}

// Decryptor opens the chunks of one stream produced by an Encryptor with
// the same key and nonce prefix.
type Decryptor struct {
	stream
}

// NewDecryptor creates a Decryptor for the given key and nonce prefix.
func NewDecryptor(key, nonce []byte) (*Decryptor, error) {
	s, err := newStream(key, nonce)
	if err != nil {
		return nil, err
	}
	return &Decryptor{stream: s}, nil
}

// OpenNext appends the plaintext of a non-final chunk to dst.
func (d *Decryptor) OpenNext(dst, chunk []byte) ([]byte, error) {
	return d.open(dst, chunk, false)
}

// OpenLast appends the plaintext of the final chunk to dst.
func (d *Decryptor) OpenLast(dst, chunk []byte) ([]byte, error) {
	return d.open(dst, chunk, true)
}

func (d *Decryptor) open(dst, chunk []byte, last bool) ([]byte, error) {
	nonce, err := d.next(last)
	if err != nil {
		return nil, err
	}
	plaintext, err := d.aead.Open(dst, nonce, chunk, nil)
	if err != nil {
		// A failed chunk poisons the stream.
		d.finished = true
		return nil, fmt.Errorf("%w: chunk %d", ErrAuthentication, binary.BigEndian.Uint32(nonce[NonceSize:NonceSize+4]))
	}
	return plaintext, nil
}
