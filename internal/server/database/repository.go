package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
)

const uploadColumns = `id, file_name, bytes, downloads, delete_key, key_hash, nonce,
	expiry_hours, expiry_downloads, created_at`

// Repository provides CRUD operations for uploads backed by Postgres.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new upload record.
func (r *Repository) Create(ctx context.Context, upload *Upload) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO uploads (`+uploadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		upload.ID,
		upload.FileName,
		upload.Bytes,
		upload.Downloads,
		upload.DeleteKey,
		upload.KeyHash,
		upload.Nonce,
		upload.ExpiryHours,
		upload.ExpiryDownloads,
		upload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

// GetByID retrieves an upload by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Upload, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// IncrementDownloads atomically increments the download counter and
// returns the new value.
func (r *Repository) IncrementDownloads(ctx context.Context, id string) (int32, error) {
	var downloads int32
	err := r.db.Pool.QueryRow(ctx,
		"UPDATE uploads SET downloads = downloads + 1 WHERE id = $1 RETURNING downloads", id,
	).Scan(&downloads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUploadNotFound
		}
		return 0, fmt.Errorf("failed to increment download count: %w", err)
	}
	return downloads, nil
}

// Delete removes an upload record by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM uploads WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// GetTimeExpired returns uploads whose expiry_hours window has elapsed.
func (r *Repository) GetTimeExpired(ctx context.Context) ([]*Upload, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE expiry_hours IS NOT NULL
		  AND created_at + make_interval(hours => expiry_hours) <= NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired upload: %w", err)
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

// IncrementStats adds one upload of the given size to the aggregate counters.
func (r *Repository) IncrementStats(ctx context.Context, bytes int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE stats
		SET files_uploaded = files_uploaded + 1, bytes_uploaded = bytes_uploaded + $1
		WHERE id = 1
	`, bytes)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			s.files_uploaded,
			s.bytes_uploaded,
			(SELECT COUNT(*) FROM uploads),
			(SELECT COALESCE(SUM(bytes), 0) FROM uploads),
			(SELECT COALESCE(SUM(downloads), 0) FROM uploads)
		FROM stats s WHERE s.id = 1
	`).Scan(
		&stats.FilesUploaded,
		&stats.BytesUploaded,
		&stats.ActiveUploads,
		&stats.ActiveBytes,
		&stats.TotalDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func scanUpload(row pgx.Row) (*Upload, error) {
	upload := &Upload{}
	err := row.Scan(
		&upload.ID,
		&upload.FileName,
		&upload.Bytes,
		&upload.Downloads,
		&upload.DeleteKey,
		&upload.KeyHash,
		&upload.Nonce,
		&upload.ExpiryHours,
		&upload.ExpiryDownloads,
		&upload.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return upload, nil
}
