package storage

import (
	"context"
	"io"
	"iter"
	"time"
)

// Package storage contains the object store abstraction used for document blobs (S3-compatible).
// Implementations must avoid using local disk and rely on streaming I/O only.
//
// Every operation is idempotent: Put overwrites, Delete of a missing key returns an error
// matching docerr.ErrNotFound, and List can be restarted from any key.

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          Key
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// ObjectStore is the S3-compatible blob capability the document core is built on.
type ObjectStore interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key Key, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key Key) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object info without reading content.
	Stat(ctx context.Context, key Key) (ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key Key) error
	// Copy duplicates src to dst inside the store.
	Copy(ctx context.Context, src, dst Key) (ObjectInfo, error)
	// List lazily yields objects of bucket whose name starts with prefix, in key order,
	// beginning after startAfter. Breaking out of the loop stops the listing.
	List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[ObjectInfo, error]
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key Key, expiry time.Duration) (string, error)
}
