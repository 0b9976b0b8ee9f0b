package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a process-local Repository used for development
// (DATABASE_URL=memory) and tests. Its state is lost on restart.
type MemoryRepository struct {
	mu      sync.Mutex
	uploads map[string]Upload
	stats   Stats
	now     func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		uploads: make(map[string]Upload),
		now:     time.Now,
	}
}

// Create inserts a new upload record.
func (m *MemoryRepository) Create(ctx context.Context, upload *Upload) error {
	if (upload.KeyHash == nil) != (upload.Nonce == nil) {
		return fmt.Errorf("failed to create upload: key_hash and nonce must be set together")
	}
	if upload.ExpiryHours != nil && upload.ExpiryDownloads != nil {
		return fmt.Errorf("failed to create upload: only one expiry may be set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.uploads[upload.ID]; exists {
		return fmt.Errorf("failed to create upload: duplicate id %s", upload.ID)
	}
	m.uploads[upload.ID] = *upload
	return nil
}

// GetByID retrieves an upload by its ID.
func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	upload, ok := m.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return &upload, nil
}

// IncrementDownloads increments the download counter and returns the new value.
func (m *MemoryRepository) IncrementDownloads(ctx context.Context, id string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	upload, ok := m.uploads[id]
	if !ok {
		return 0, ErrUploadNotFound
	}
	upload.Downloads++
	m.uploads[id] = upload
	return upload.Downloads, nil
}

// Delete removes an upload record by ID.
func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.uploads[id]; !ok {
		return ErrUploadNotFound
	}
	delete(m.uploads, id)
	return nil
}

// GetTimeExpired returns uploads whose expiry_hours window has elapsed,
// oldest first.
func (m *MemoryRepository) GetTimeExpired(ctx context.Context) ([]*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var uploads []*Upload
	for _, upload := range m.uploads {
		expiresAt, ok := upload.ExpiresAt()
		if !ok {
			continue
		}
		if !now.Before(expiresAt) {
			u := upload
			uploads = append(uploads, &u)
		}
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
	return uploads, nil
}

// IncrementStats adds one upload of the given size to the aggregate counters.
func (m *MemoryRepository) IncrementStats(ctx context.Context, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.FilesUploaded++
	m.stats.BytesUploaded += bytes
	return nil
}

// GetStats returns aggregate server statistics.
func (m *MemoryRepository) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.ActiveUploads = int64(len(m.uploads))
	for _, upload := range m.uploads {
		stats.ActiveBytes += upload.Bytes
		stats.TotalDownloads += int64(upload.Downloads)
	}
	return &stats, nil
}

// HealthCheck always succeeds.
func (m *MemoryRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// SetClock overrides the time source used by GetTimeExpired.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
