// Package gcsstore implements objectstore.Store over Google Cloud Storage,
// backing the gs:// storage URI scheme (spec.md §6). Grounded on the
// cloud.google.com/go/storage wiring in the fsouza-fake-gcs-server and
// GoogleCloudPlatform-gcsfuse manifests.
package gcsstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"kirin/pkg/kirinerr"
)

// Config configures the GCS backend. Credentials, when it carries a
// "credentials_json" entry, is passed through to option.WithCredentialsJSON;
// otherwise the SDK's Application Default Credentials are used.
type Config struct {
	Bucket      string
	Prefix      string
	Credentials map[string]string
}

// Store implements objectstore.Store over a GCS bucket/prefix.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New constructs a Store, resolving credentials the way the SDK's own
// client constructor does.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []option.ClientOption
	if raw, ok := cfg.Credentials["credentials_json"]; ok && raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, kirinerr.NewBackendError("gcsstore.New", false, err)
	}

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.fullKey(key))
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.OpenRead(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, kirinerr.NewBackendError("gcsstore.Read", true, err)
	}
	return data, nil
}

func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, kirinerr.NewBackendError("gcsstore.OpenRead", true, err)
	}
	return r, nil
}

// Write uploads data in a single resumable-or-simple upload; the GCS
// client's Writer finalizes the object atomically on Close (spec.md §4.1).
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	w := s.object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return kirinerr.NewBackendError("gcsstore.Write", true, err)
	}
	if err := w.Close(); err != nil {
		return kirinerr.NewBackendError("gcsstore.Write", true, err)
	}
	return nil
}

type gcsWriteCloser struct {
	w *storage.Writer
}

func (w *gcsWriteCloser) Write(p []byte) (int, error) { return w.w.Write(p) }
func (w *gcsWriteCloser) Close() error {
	if err := w.w.Close(); err != nil {
		return kirinerr.NewBackendError("gcsstore.Write", true, err)
	}
	return nil
}

func (s *Store) OpenWrite(ctx context.Context, key string) (io.WriteCloser, error) {
	return &gcsWriteCloser{w: s.object(key).NewWriter(ctx)}, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, kirinerr.NewBackendError("gcsstore.Exists", true, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return kirinerr.NewBackendError("gcsstore.Delete", true, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.fullKey(prefix)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, kirinerr.NewBackendError("gcsstore.List", true, err)
		}
		name := attrs.Name
		if s.prefix != "" {
			name = strings.TrimPrefix(name, s.prefix+"/")
		}
		out = append(out, name)
	}
	return out, nil
}
