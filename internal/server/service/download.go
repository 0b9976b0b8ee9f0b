package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"lockbox/internal/server/codec"
	"lockbox/internal/server/database"
	"lockbox/internal/server/lifecycle"
)

// Download is a retrievable upload. The caller must close Body.
type Download struct {
	FileName string
	Bytes    int64
	Body     io.ReadCloser
}

// UploadInfo is returned for metadata queries.
type UploadInfo struct {
	FileName  string `json:"fileName"`
	Bytes     int64  `json:"bytes"`
	Downloads int32  `json:"downloads"`
}

// Download checks expiry and key policy and returns the plaintext of an
// upload. Encrypted uploads are fully decrypted and authenticated into a
// scratch file before anything is returned.
func (s *UploadService) Download(ctx context.Context, id, key string) (*Download, error) {
	upload, err := s.authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}

	body, detached, err := s.openPlaintext(ctx, upload, key)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.IncrementDownloads(ctx, id)
	if err != nil {
		slog.Warn("failed to increment download count", "upload_id", id, "error", err)
		count = upload.Downloads + 1
	}

	if lifecycle.IsDownloadExpired(upload, count) {
		if detached {
			s.expire(ctx, id)
		} else {
			// Body still reads from the stored object, so removal waits for Close.
			body = &expiringBody{ReadCloser: body, expire: func() { s.expire(ctx, id) }}
		}
	}

	slog.Info("upload downloaded", "id", id, "downloads", count)

	return &Download{
		FileName: upload.FileName,
		Bytes:    upload.Bytes,
		Body:     body,
	}, nil
}

// Info returns upload metadata after the same expiry and key checks as
// Download. It does not count as a download.
func (s *UploadService) Info(ctx context.Context, id, key string) (*UploadInfo, error) {
	upload, err := s.authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}

	return &UploadInfo{
		FileName:  upload.FileName,
		Bytes:     upload.Bytes,
		Downloads: upload.Downloads,
	}, nil
}

// Delete removes an upload when deleteKey matches.
func (s *UploadService) Delete(ctx context.Context, id, deleteKey string) error {
	upload, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return ErrUploadNotFound
		}
		return fmt.Errorf("failed to look up upload: %w", err)
	}

	if upload.DeleteKey != deleteKey {
		return ErrInvalidDeleteKey
	}

	if err := s.lifecycle.Delete(ctx, id); err != nil {
		return err
	}

	slog.Info("upload deleted", "id", id, "filename", upload.FileName)
	return nil
}

// Stats returns aggregate server statistics.
func (s *UploadService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

// authorize loads an upload and applies time expiry and decryption key
// checks shared by Download and Info.
func (s *UploadService) authorize(ctx context.Context, id, key string) (*database.Upload, error) {
	upload, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to look up upload: %w", err)
	}

	if lifecycle.IsTimeExpired(upload, s.now()) {
		s.expire(ctx, id)
		return nil, ErrUploadExpired
	}

	if lifecycle.RequiresKey(upload) {
		if key == "" {
			return nil, ErrMissingKey
		}
		if upload.KeyHash == nil || upload.Nonce == nil {
			return nil, ErrCorruptedUpload
		}
		if !codec.VerifyKey(key, *upload.KeyHash) {
			return nil, ErrInvalidDecryptionKey
		}
	}

	return upload, nil
}

// openPlaintext returns a reader over the upload's plaintext. detached is
// true when the reader no longer depends on the stored object.
func (s *UploadService) openPlaintext(ctx context.Context, upload *database.Upload, keyHex string) (body io.ReadCloser, detached bool, err error) {
	stored, err := s.store.Open(ctx, upload.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open stored upload: %w", err)
	}
	if !upload.Encrypted() {
		return stored, false, nil
	}
	defer stored.Close()

	key, err := codec.ParseKey(keyHex, *upload.Nonce)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedUpload, err)
	}

	scratch, err := s.scratch.Create()
	if err != nil {
		return nil, false, err
	}

	if _, err := codec.DecryptStream(ctx, scratch, stored, key); err != nil {
		scratch.Close()
		return nil, false, fmt.Errorf("failed to decrypt upload %s: %w", upload.ID, err)
	}
	if err := scratch.Rewind(); err != nil {
		scratch.Close()
		return nil, false, err
	}
	return scratch, true, nil
}

// expire removes an upload whose limit was reached. Failures are logged.
func (s *UploadService) expire(ctx context.Context, id string) {
	if err := s.lifecycle.Delete(context.WithoutCancel(ctx), id); err != nil {
		slog.Error("failed to remove expired upload", "upload_id", id, "error", err)
		return
	}
	slog.Info("expired upload removed", "id", id)
}

// expiringBody runs expire once after the underlying reader is closed.
type expiringBody struct {
	io.ReadCloser
	expire func()
	once   sync.Once
}

func (b *expiringBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.expire)
	return err
}
