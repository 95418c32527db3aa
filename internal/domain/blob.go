package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one listed object. Path is relative to the store's prefix.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores archive objects. PutMultipart streams data of unknown
// length in parts of at least partSize bytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive objects back. Get returns ErrNotFound for a
// missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged events and answer history to cold storage and exports
// full snapshots. The counts returned are rows written.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	ArchiveHistory(ctx context.Context, before time.Time) (int64, error)
	ExportSnapshot(ctx context.Context, snap *Snapshot, at time.Time) (string, error)
}
