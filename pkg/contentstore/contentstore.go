// Package contentstore implements Kirin's content-addressed blob store
// (spec.md §4.2): immutable blobs keyed by the SHA-256 of their content,
// laid out at data/{hh}/{rest} over any objectstore.Store backend.
//
// Modeled on a hash-then-write-if-absent content-addressed store with a
// two-level directory fanout, generalized from a direct filesystem
// implementation to one built over the backend-agnostic objectstore.Store
// abstraction.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"kirin/pkg/kirinerr"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore"
)

// Store is a content-addressed blob store over an objectstore.Store.
type Store struct {
	backend objectstore.Store
}

// New wraps backend as a content-addressed blob store.
func New(backend objectstore.Store) *Store {
	return &Store{backend: backend}
}

func blobKey(h kirinhash.Hash) string {
	prefix, rest := h.ShardPath()
	return "data/" + prefix + "/" + rest
}

// PutBytes stores buf, returning its hash. Idempotent: if a blob with the
// same hash already exists, the existing blob is left untouched and no
// write occurs (spec.md §4.2 "exists() check precedes write").
func (s *Store) PutBytes(ctx context.Context, buf []byte) (kirinhash.Hash, error) {
	h := kirinhash.Of(buf)

	exists, err := s.backend.Exists(ctx, blobKey(h))
	if err != nil {
		return "", err
	}
	if exists {
		return h, nil
	}

	if err := s.backend.Write(ctx, blobKey(h), buf); err != nil {
		return "", err
	}
	return h, nil
}

// PutStream stores the content read from r without buffering it fully in
// memory: it streams into a staging key while accumulating the SHA-256
// hash, then finalizes by writing at the hash-derived key once the digest
// is known (spec.md §4.2 "streams to a temporary location and finalizes on
// hash completion").
func (s *Store) PutStream(ctx context.Context, r io.Reader) (kirinhash.Hash, int64, error) {
	staging := "data/.staging/" + randomSuffix()

	w, err := s.backend.OpenWrite(ctx, staging)
	if err != nil {
		return "", 0, err
	}

	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	n, copyErr := io.Copy(w, tee)
	if copyErr != nil {
		w.Close()
		s.backend.Delete(ctx, staging)
		return "", 0, kirinerr.NewBackendError("contentstore.PutStream", true, copyErr)
	}
	if err := w.Close(); err != nil {
		s.backend.Delete(ctx, staging)
		return "", 0, err
	}

	h := kirinhash.Hash(hex.EncodeToString(hasher.Sum(nil)))

	exists, err := s.backend.Exists(ctx, blobKey(h))
	if err != nil {
		s.backend.Delete(ctx, staging)
		return "", 0, err
	}
	if exists {
		// Deduplicated: the staged copy is unnecessary.
		s.backend.Delete(ctx, staging)
		return h, n, nil
	}

	src, err := s.backend.OpenRead(ctx, staging)
	if err != nil {
		return "", 0, err
	}
	dst, err := s.backend.OpenWrite(ctx, blobKey(h))
	if err != nil {
		src.Close()
		return "", 0, err
	}
	_, copyErr = io.Copy(dst, src)
	src.Close()
	if copyErr != nil {
		// dst is not closed, so no partial object is finalized at the blob key.
		return "", 0, kirinerr.NewBackendError("contentstore.PutStream", true, copyErr)
	}
	if err := dst.Close(); err != nil {
		return "", 0, err
	}
	s.backend.Delete(ctx, staging)

	return h, n, nil
}

// PutPath opens the file at path and delegates to PutStream.
func (s *Store) PutPath(ctx context.Context, path string) (kirinhash.Hash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, kirinerr.NewBackendError("contentstore.PutPath", false, err)
	}
	defer f.Close()
	return s.PutStream(ctx, f)
}

// GetBytes returns the full contents of the blob with hash h.
func (s *Store) GetBytes(ctx context.Context, h kirinhash.Hash) ([]byte, error) {
	return s.backend.Read(ctx, blobKey(h))
}

// Open returns a stream over the blob with hash h. The caller must close it.
func (s *Store) Open(ctx context.Context, h kirinhash.Hash) (io.ReadCloser, error) {
	return s.backend.OpenRead(ctx, blobKey(h))
}

// Has reports whether a blob with hash h exists.
func (s *Store) Has(ctx context.Context, h kirinhash.Hash) (bool, error) {
	return s.backend.Exists(ctx, blobKey(h))
}

// Delete removes the blob with hash h. Safe to call only when no live
// commit references h (enforced by the caller, typically dataset.Dataset's
// cleanup_orphaned_files — spec.md §4.4.5).
func (s *Store) Delete(ctx context.Context, h kirinhash.Hash) error {
	return s.backend.Delete(ctx, blobKey(h))
}

// ListHashes returns every blob hash currently stored, by walking the
// data/*/* layout. Used by cleanup_orphaned_files to enumerate candidates.
func (s *Store) ListHashes(ctx context.Context) ([]kirinhash.Hash, error) {
	keys, err := s.backend.List(ctx, "data/")
	if err != nil {
		return nil, err
	}

	hashes := make([]kirinhash.Hash, 0, len(keys))
	for _, key := range keys {
		h, ok := hashFromKey(key)
		if !ok {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func hashFromKey(key string) (kirinhash.Hash, bool) {
	const prefix = "data/"
	if len(key) <= len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || len(parts[0]) != 2 {
		return "", false
	}

	parsed, err := kirinhash.Parse(parts[0] + parts[1])
	if err != nil {
		return "", false
	}
	return parsed, true
}

func randomSuffix() string {
	return uuid.NewString()
}
