package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter writes immutable objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads objects from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from blob storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver snapshots settled state (resolved markets, their price
// histories, and old audit entries) out of the primary store into blob
// storage. Deletion from the primary store is a separate explicit step
// taken after the archive has been verified.
type Archiver interface {
	ArchiveResolvedMarkets(ctx context.Context, before time.Time) (key string, count int, err error)
	ArchivePriceHistory(ctx context.Context, before time.Time) (key string, count int, err error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (key string, count int, err error)
}
