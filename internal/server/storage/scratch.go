package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ScratchDir hands out temporary files that are removed when closed.
type ScratchDir struct {
	dir string
}

// NewScratchDir creates a scratch allocator in dir. An empty dir uses the
// system temp directory.
func NewScratchDir(dir string) *ScratchDir {
	return &ScratchDir{dir: dir}
}

// EnsureDir creates the scratch directory if it doesn't exist.
func (sd *ScratchDir) EnsureDir() error {
	if sd.dir == "" {
		return nil
	}
	if err := os.MkdirAll(sd.dir, 0700); err != nil {
		return fmt.Errorf("failed to create temp directory %s: %w", sd.dir, err)
	}
	return nil
}

// Create opens a new scratch file.
func (sd *ScratchDir) Create() (*ScratchFile, error) {
	file, err := os.CreateTemp(sd.dir, "lockbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	return &ScratchFile{File: file}, nil
}

// ScratchFile is a temporary file deleted on Close. Close is idempotent.
type ScratchFile struct {
	*os.File
	closed bool
}

// Rewind seeks back to the start of the file.
func (sf *ScratchFile) Rewind() error {
	if _, err := sf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind scratch file: %w", err)
	}
	return nil
}

// Close closes and removes the file. A removal failure is logged and
// returned.
func (sf *ScratchFile) Close() error {
	if sf.closed {
		return nil
	}
	sf.closed = true

	name := sf.Name()
	closeErr := sf.File.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove scratch file", "path", name, "error", err)
		return err
	}
	return closeErr
}
