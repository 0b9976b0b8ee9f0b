// Package lifecycle decides when an upload has expired and removes uploads
// from both the metadata store and the content store.
package lifecycle

import (
	"time"

	"lockbox/internal/server/database"
)

// ExpiresAt returns the instant an upload with an expiry_hours limit stops
// being retrievable. ok is false when the upload has no time limit.
func ExpiresAt(u *database.Upload) (t time.Time, ok bool) {
	return u.ExpiresAt()
}

// IsTimeExpired reports whether now is at or past the upload's time limit.
func IsTimeExpired(u *database.Upload, now time.Time) bool {
	expiresAt, ok := ExpiresAt(u)
	if !ok {
		return false
	}
	return !now.Before(expiresAt)
}

// IsDownloadExpired reports whether count, the download total after the
// current download was recorded, has used up the upload's allowance.
func IsDownloadExpired(u *database.Upload, count int32) bool {
	if u.ExpiryDownloads == nil {
		return false
	}
	return count >= *u.ExpiryDownloads
}

// RequiresKey reports whether a decryption key must accompany requests for u.
func RequiresKey(u *database.Upload) bool {
	return u.Encrypted()
}
