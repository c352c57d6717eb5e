// Package storage defines the Backend used to archive audit data: CSV
// snapshots of entries removed by a retention purge and copies of each
// report that is sent.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports each backend package to trigger registration.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage is an object store for archive files. Paths use forward slashes.
type Storage interface {
	// Upload stores the content of reader at path and returns its SHA256.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object at path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the objects whose path starts with prefix, sorted by path.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path string
	Size int64
	// Checksum is the hex SHA256 of the content.
	Checksum string
}

// ObjectInfo is one entry returned by List.
type ObjectInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
