package database

import (
	"math"
	"time"
)

// MaxExpiryHours is the largest expiry_hours whose window fits in a
// time.Duration.
const MaxExpiryHours = int32(math.MaxInt64 / int64(time.Hour))

// Upload represents a stored file upload in the database.
type Upload struct {
	ID              string
	FileName        string
	Bytes           int64 // plaintext size
	Downloads       int32
	DeleteKey       string
	KeyHash         *string // nil for plaintext uploads
	Nonce           *string // nil for plaintext uploads
	ExpiryHours     *int32
	ExpiryDownloads *int32
	CreatedAt       time.Time
}

// Encrypted reports whether the upload carries any encryption metadata.
func (u *Upload) Encrypted() bool {
	return u.Nonce != nil || u.KeyHash != nil
}

// ExpiresAt returns the end of the expiry_hours window. ok is false when the
// upload has no time limit or the limit is beyond MaxExpiryHours, which
// never elapses.
func (u *Upload) ExpiresAt() (t time.Time, ok bool) {
	if u.ExpiryHours == nil || *u.ExpiryHours > MaxExpiryHours {
		return time.Time{}, false
	}
	return u.CreatedAt.Add(time.Duration(*u.ExpiryHours) * time.Hour), true
}

// Stats holds aggregate server statistics. FilesUploaded and BytesUploaded
// are running totals; the Active fields describe what is stored now.
type Stats struct {
	FilesUploaded  int64
	BytesUploaded  int64
	ActiveUploads  int64
	ActiveBytes    int64
	TotalDownloads int64
}
