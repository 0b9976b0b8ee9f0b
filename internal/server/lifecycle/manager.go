package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lockbox/internal/server/database"
	"lockbox/internal/server/storage"
)

// RowDeleter removes upload metadata rows.
type RowDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Manager removes uploads. It is the single deletion path shared by explicit
// delete requests, lazy expiry and the reaper.
type Manager struct {
	rows  RowDeleter
	store storage.Store
}

// NewManager creates a new Manager.
func NewManager(rows RowDeleter, store storage.Store) *Manager {
	return &Manager{rows: rows, store: store}
}

// Delete removes the metadata row and then the stored object for id.
// Missing rows and objects are not errors. Once the row is gone the upload
// is no longer retrievable, so a failure to remove the object is logged and
// not returned.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.rows.Delete(ctx, id); err != nil && !errors.Is(err, database.ErrUploadNotFound) {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		slog.Error("failed to delete stored object",
			"upload_id", id,
			"error", err,
		)
	}
	return nil
}
