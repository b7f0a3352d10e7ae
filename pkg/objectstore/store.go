// Package objectstore defines the narrow key->bytes abstraction that Kirin's
// content store, commit store and file index are built on (spec.md §4.1),
// and dispatches a storage URI (spec.md §6) to one of the concrete backends
// in the localfs/s3store/gcsstore/azstore subpackages.
package objectstore

import (
	"context"
	"io"
)

// Store is a narrow object-store abstraction over any backend (local
// filesystem, S3, GCS, Azure, in-memory). Keys are "/"-separated logical
// paths relative to the store's root; encoding of special characters is a
// backend concern, since Kirin only ever emits ASCII hex digests and
// caller-controlled filenames.
//
// All operations may fail with a *kirinerr.BackendError. Writes (Write and
// OpenWrite) must be atomic-or-retry: a partial write that leaves a corrupt
// object at key is a spec violation (spec.md §4.1).
type Store interface {
	// Read returns the full contents of key.
	Read(ctx context.Context, key string) ([]byte, error)

	// OpenRead returns a stream for key. The caller must Close it.
	OpenRead(ctx context.Context, key string) (io.ReadCloser, error)

	// Write stores data at key atomically: either the full object is
	// visible at key, or nothing changed.
	Write(ctx context.Context, key string, data []byte) error

	// OpenWrite returns a WriteCloser; the object is only guaranteed
	// durable and visible at key once Close returns nil. Implementations
	// achieve this via a single-request PUT, a multipart-then-finalize
	// upload, or (for local filesystems) a write-to-temp-then-rename
	// within the same directory.
	OpenWrite(ctx context.Context, key string) (io.WriteCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List yields every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
