package objectstore

import (
	"context"
	"fmt"
	"strings"

	"kirin/pkg/objectstore/azstore"
	"kirin/pkg/objectstore/gcsstore"
	"kirin/pkg/objectstore/localfs"
	"kirin/pkg/objectstore/s3store"
)

// Config selects and configures a backend by URI, per spec.md §6:
// file://…  (or a bare path), s3://bucket/prefix, gs://bucket/prefix,
// az://container/prefix, memory://….
//
// Credentials are treated as opaque configuration forwarded to the
// backend's own SDK credential chain (spec.md §1 Non-goals); Kirin never
// interprets them.
type Config struct {
	URI string

	// Credentials is backend-specific opaque configuration (e.g. an
	// explicit AWS/GCS/Azure credential override). When nil, each backend
	// falls back to its SDK's default credential discovery.
	Credentials map[string]string
}

// Open resolves a Config to a concrete Store by inspecting the URI scheme.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch {
	case strings.HasPrefix(cfg.URI, "memory://"):
		return localfs.NewMemory(), nil

	case strings.HasPrefix(cfg.URI, "file://"):
		return localfs.NewOS(strings.TrimPrefix(cfg.URI, "file://"))

	case strings.HasPrefix(cfg.URI, "s3://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(cfg.URI, "s3://"))
		return s3store.New(ctx, s3store.Config{Bucket: bucket, Prefix: prefix, Credentials: cfg.Credentials})

	case strings.HasPrefix(cfg.URI, "gs://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(cfg.URI, "gs://"))
		return gcsstore.New(ctx, gcsstore.Config{Bucket: bucket, Prefix: prefix, Credentials: cfg.Credentials})

	case strings.HasPrefix(cfg.URI, "az://"):
		container, prefix := splitBucketPrefix(strings.TrimPrefix(cfg.URI, "az://"))
		return azstore.New(ctx, azstore.Config{
			Container:   container,
			Prefix:      prefix,
			ServiceURL:  cfg.Credentials["service_url"],
			Credentials: cfg.Credentials,
		})

	case cfg.URI != "":
		// A bare path is treated as a local filesystem root.
		return localfs.NewOS(cfg.URI)

	default:
		return nil, fmt.Errorf("objectstore: empty storage URI")
	}
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix
}
