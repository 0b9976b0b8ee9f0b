package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned when no object exists for an upload ID.
var ErrNotFound = errors.New("stored object not found")

// Store defines the interface for upload content backends. Objects are
// written once at ingestion, then only read or deleted.
type Store interface {
	// Create opens a new, empty object for uploadID. Any existing object
	// with the same ID is truncated.
	Create(ctx context.Context, uploadID string) (io.WriteCloser, error)
	// Open returns the stored bytes for uploadID.
	Open(ctx context.Context, uploadID string) (io.ReadCloser, error)
	// Digest returns the lowercase hex SHA-256 of the stored bytes.
	Digest(ctx context.Context, uploadID string) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, uploadID string) error
	// EnsureReady prepares the backend (directory, bucket) for use.
	EnsureReady(ctx context.Context) error
}

// Aborter is implemented by object writers that can discard what was
// written instead of committing it.
type Aborter interface {
	CloseWithError(cause error) error
}

// Abort closes w after a failed write. Backends that support it drop the
// partial object; others just close it and leave removal to Delete.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(Aborter); ok {
		return a.CloseWithError(cause)
	}
	return w.Close()
}

// FileSystemStore stores uploads as flat files named {dir}{uploadID}.
type FileSystemStore struct {
	dir string
}

// NewFileSystemStore creates a new filesystem storage backend rooted at dir.
func NewFileSystemStore(dir string) *FileSystemStore {
	if dir == "" {
		dir = "."
	}
	if !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}
	return &FileSystemStore{dir: dir}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureReady(ctx context.Context) error {
	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.dir, err)
	}
	return nil
}

// Create opens {dir}{uploadID} for reading and writing, creating or
// truncating it.
func (fs *FileSystemStore) Create(ctx context.Context, uploadID string) (io.WriteCloser, error) {
	if err := validateID(uploadID); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(fs.Path(uploadID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file for upload %s: %w", uploadID, err)
	}
	return file, nil
}

// Open returns the stored file for an upload.
func (fs *FileSystemStore) Open(ctx context.Context, uploadID string) (io.ReadCloser, error) {
	if err := validateID(uploadID); err != nil {
		return nil, err
	}

	file, err := os.Open(fs.Path(uploadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file for upload %s: %w", uploadID, err)
	}
	return file, nil
}

// Digest hashes the stored file.
func (fs *FileSystemStore) Digest(ctx context.Context, uploadID string) (string, error) {
	file, err := fs.Open(ctx, uploadID)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return digestReader(file)
}

// Delete removes the stored file for an upload.
func (fs *FileSystemStore) Delete(ctx context.Context, uploadID string) error {
	if err := validateID(uploadID); err != nil {
		return err
	}

	filePath := fs.Path(uploadID)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Path returns the on-disk location of an upload.
func (fs *FileSystemStore) Path(uploadID string) string {
	return fs.dir + uploadID
}

func digestReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to hash stored object: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// validateID rejects IDs that could escape the flat storage namespace.
func validateID(uploadID string) error {
	if uploadID == "" || uploadID == "." || uploadID == ".." ||
		strings.ContainsAny(uploadID, `/\`) || strings.ContainsRune(uploadID, 0) {
		return fmt.Errorf("invalid upload id %q", uploadID)
	}
	return nil
}
