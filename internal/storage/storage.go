package storage

import (
	"context"
	"io"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

// FileStorage defines the interface for object storage operations. Finalized
// media files and thumbnails are written here under server-generated keys;
// the catalog serves them back via presigned URLs.
type FileStorage interface {
	// Upload writes an object under the given key, overwriting any
	// previous object with that key.
	Upload(ctx context.Context, objectKey string, body io.Reader, contentType string) error

	// Download opens the object for reading. The caller must close it.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// GeneratePresignedDownloadURL creates a temporary URL that allows GET
	// requests for an object directly from the storage provider.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// DeleteObject removes an object from the storage provider.
	DeleteObject(ctx context.Context, objectKey string) error
}
