package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"lockbox/internal/server/blacklist"
	"lockbox/internal/server/codec"
	"lockbox/internal/server/database"
	"lockbox/internal/server/lifecycle"
	"lockbox/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrEmptyUpload          = errors.New("you need to upload at least one file")
	ErrInvalidFileName      = errors.New("the uploaded file has an invalid name")
	ErrBothExpirations      = errors.New("only one of expiry_hours and expiry_downloads may be set")
	ErrInvalidExpiry        = fmt.Errorf("expiry_hours must be between 0 and %d and expiry_downloads must not be negative", database.MaxExpiryHours)
	ErrUploadNotFound       = errors.New("upload not found")
	ErrUploadExpired        = errors.New("upload has expired")
	ErrMissingKey           = errors.New("this file is encrypted, a decryption key is required")
	ErrInvalidDecryptionKey = errors.New("invalid decryption key")
	ErrInvalidDeleteKey     = errors.New("invalid deletion key")
	ErrCorruptedUpload      = errors.New("the uploaded file is corrupted")
	ErrFileBlacklisted      = errors.New("this file is not allowed")
)

const maxIDAttempts = 5

// Repository is the metadata store the service reads and writes.
type Repository interface {
	Create(ctx context.Context, upload *database.Upload) error
	GetByID(ctx context.Context, id string) (*database.Upload, error)
	IncrementDownloads(ctx context.Context, id string) (int32, error)
	Delete(ctx context.Context, id string) error
	IncrementStats(ctx context.Context, bytes int64) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// UploadRequest describes one incoming file.
type UploadRequest struct {
	FileName        string
	Body            io.Reader
	Encrypt         bool
	ExpiryHours     *int32
	ExpiryDownloads *int32
}

// UploadResult is returned after a successful upload. DecryptionKey is the
// only copy of the key the server ever hands out.
type UploadResult struct {
	ID            string  `json:"id"`
	DecryptionKey *string `json:"decryptionKey,omitempty"`
	DeleteKey     string  `json:"deleteKey"`
}

// UploadService contains the business logic for uploads.
type UploadService struct {
	repo      Repository
	store     storage.Store
	lifecycle *lifecycle.Manager
	scratch   *storage.ScratchDir
	blacklist *blacklist.Filter
	now       func() time.Time
}

// NewUploadService creates a new upload service.
func NewUploadService(
	repo Repository,
	store storage.Store,
	manager *lifecycle.Manager,
	scratch *storage.ScratchDir,
	filter *blacklist.Filter,
) *UploadService {
	return &UploadService{
		repo:      repo,
		store:     store,
		lifecycle: manager,
		scratch:   scratch,
		blacklist: filter,
		now:       time.Now,
	}
}

// Upload streams req.Body into the content store, encrypting it when
// requested, and records the upload. The upload is not visible to readers
// until its metadata row exists.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.ExpiryHours != nil && req.ExpiryDownloads != nil {
		return nil, ErrBothExpirations
	}
	if (req.ExpiryHours != nil && (*req.ExpiryHours < 0 || *req.ExpiryHours > database.MaxExpiryHours)) ||
		(req.ExpiryDownloads != nil && *req.ExpiryDownloads < 0) {
		return nil, ErrInvalidExpiry
	}
	if req.FileName == "" {
		return nil, ErrInvalidFileName
	}

	uploadID, err := s.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	var key *codec.Key
	if req.Encrypt {
		k, err := codec.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		key = &k
	}

	w, err := s.store.Create(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage object: %w", err)
	}

	size, err := writeObject(ctx, w, req.Body, key)
	if err != nil {
		s.discard(ctx, uploadID)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	digest, err := s.store.Digest(ctx, uploadID)
	if err != nil {
		s.discard(ctx, uploadID)
		return nil, fmt.Errorf("failed to hash stored upload: %w", err)
	}
	if s.blacklist.Contains(digest) {
		s.discard(ctx, uploadID)
		slog.Warn("rejected blacklisted upload", "digest", digest, "filename", req.FileName)
		return nil, ErrFileBlacklisted
	}

	deleteKey, err := generateSecureToken(DeleteKeyLength)
	if err != nil {
		s.discard(ctx, uploadID)
		return nil, fmt.Errorf("failed to generate delete key: %w", err)
	}

	upload := &database.Upload{
		ID:              uploadID,
		FileName:        req.FileName,
		Bytes:           size,
		DeleteKey:       deleteKey,
		ExpiryHours:     req.ExpiryHours,
		ExpiryDownloads: req.ExpiryDownloads,
		CreatedAt:       s.now().UTC(),
	}
	result := &UploadResult{ID: uploadID, DeleteKey: deleteKey}
	if key != nil {
		keyHex, nonceHex := key.KeyHex(), key.NonceHex()
		keyHash := codec.HashKey(keyHex)
		upload.KeyHash = &keyHash
		upload.Nonce = &nonceHex
		result.DecryptionKey = &keyHex
	}

	if err := s.repo.Create(ctx, upload); err != nil {
		s.discard(ctx, uploadID)
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	if err := s.repo.IncrementStats(ctx, size); err != nil {
		slog.Error("failed to update stats", "upload_id", uploadID, "error", err)
	}

	slog.Info("upload processed",
		"id", uploadID,
		"filename", upload.FileName,
		"bytes", size,
		"encrypted", key != nil,
	)

	return result, nil
}

// writeObject copies body into w in codec-sized chunks, sealing them when
// key is set, and closes w. It returns the plaintext byte count.
func writeObject(ctx context.Context, w io.WriteCloser, body io.Reader, key *codec.Key) (int64, error) {
	var (
		n   int64
		err error
	)
	if key != nil {
		n, err = codec.EncryptStream(ctx, w, body, *key)
	} else {
		n, err = codec.CopyChunked(ctx, w, body)
	}

	if err != nil {
		storage.Abort(w, err)
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("failed to finalize storage object: %w", err)
	}
	return n, nil
}

// allocateID draws upload IDs until one is not already in use.
func (s *UploadService) allocateID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := generateSecureToken(UploadIDLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate upload ID: %w", err)
		}

		_, err = s.repo.GetByID(ctx, id)
		if errors.Is(err, database.ErrUploadNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check upload ID: %w", err)
		}
		slog.Warn("upload ID collision, retrying", "id", id)
	}
	return "", fmt.Errorf("failed to allocate a free upload ID after %d attempts", maxIDAttempts)
}

// discard removes an object that never got a metadata row.
func (s *UploadService) discard(ctx context.Context, uploadID string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), uploadID); err != nil {
		slog.Error("failed to remove orphaned object", "upload_id", uploadID, "error", err)
	}
}
