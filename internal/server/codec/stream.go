package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EncryptStream reads src in ChunkSize pieces, seals them and writes the
// ciphertext to dst. It returns the number of plaintext bytes consumed.
func EncryptStream(ctx context.Context, dst io.Writer, src io.Reader, key Key) (int64, error) {
	enc, err := NewEncryptor(key.Key[:], key.Nonce[:])
	if err != nil {
		return 0, err
	}

	buf := make([]byte, ChunkSize)
	out := make([]byte, 0, SealedChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := readChunk(src, buf)
		if err != nil {
			return total, fmt.Errorf("reading plaintext: %w", err)
		}
		total += int64(n)

		last := n < ChunkSize
		if last {
			out, err = enc.SealLast(out[:0], buf[:n])
		} else {
			out, err = enc.SealNext(out[:0], buf[:n])
		}
		if err != nil {
			return total, err
		}

		if _, err := dst.Write(out); err != nil {
			return total, fmt.Errorf("writing ciphertext: %w", err)
		}
		if last {
			return total, nil
		}
	}
}

// DecryptStream reads sealed chunks from src, opens them and writes the
// plaintext to dst. It returns the number of plaintext bytes written.
//
// Plaintext is written chunk by chunk, so on error dst may hold a prefix of
// the stream. Callers that must not expose unauthenticated output should
// decrypt into scratch space first.
func DecryptStream(ctx context.Context, dst io.Writer, src io.Reader, key Key) (int64, error) {
	dec, err := NewDecryptor(key.Key[:], key.Nonce[:])
	if err != nil {
		return 0, err
	}

	buf := make([]byte, SealedChunkSize)
	out := make([]byte, 0, ChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := readChunk(src, buf)
		if err != nil {
			return total, fmt.Errorf("reading ciphertext: %w", err)
		}

		last := n < SealedChunkSize
		if last {
			out, err = dec.OpenLast(out[:0], buf[:n])
		} else {
			out, err = dec.OpenNext(out[:0], buf[:n])
		}
		if err != nil {
			return total, err
		}

		if _, err := dst.Write(out); err != nil {
			return total, fmt.Errorf("writing plaintext: %w", err)
		}
		total += int64(len(out))
		if last {
			return total, nil
		}
	}
}

// CopyChunked copies src to dst in ChunkSize pieces without encryption,
// checking ctx between chunks. It returns the number of bytes copied.
func CopyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := readChunk(src, buf)
		if err != nil {
			return total, fmt.Errorf("reading body: %w", err)
		}
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("writing body: %w", err)
			}
			total += int64(n)
		}
		if n < ChunkSize {
			return total, nil
		}
	}
}

// readChunk fills buf from r. A short count with a nil error means r is
// exhausted.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
