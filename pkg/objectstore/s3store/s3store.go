// Package s3store implements objectstore.Store over Amazon S3 (or any
// S3-compatible service) via aws-sdk-go-v2, backing the s3:// storage URI
// scheme (spec.md §6). Grounded on the aws-sdk-go-v2 wiring in the
// marmos91-dittofs manifest — the pack's only repo wiring a full S3 client
// end to end.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"kirin/pkg/kirinerr"
)

// Config configures the S3 backend. Credentials, when non-empty, supplies
// an explicit access-key/secret override; otherwise the SDK's default
// credential chain (env, shared config, instance role, ...) is used,
// matching spec.md §1's "opaque configuration" treatment of cloud auth.
type Config struct {
	Bucket      string
	Prefix      string
	Region      string
	Credentials map[string]string
}

// Store implements objectstore.Store over an S3 bucket/prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs a Store, resolving AWS credentials/region the way the
// SDK's own config loader does.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if ak, sk := cfg.Credentials["access_key_id"], cfg.Credentials["secret_access_key"]; ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, cfg.Credentials["session_token"]),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, kirinerr.NewBackendError("s3store.New", false, err)
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.OpenRead(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, kirinerr.NewBackendError("s3store.Read", true, err)
	}
	return data, nil
}

func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, kirinerr.NewBackendError("s3store.OpenRead", true, err)
	}
	return out.Body, nil
}

// Write performs a single PutObject call; S3 PutObject is itself atomic
// (spec.md §4.1 "single-request PUT").
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return kirinerr.NewBackendError("s3store.Write", true, err)
	}
	return nil
}

// s3Writer buffers the stream in memory and finalizes with one PutObject on
// Close. A production backend would switch to a multipart upload above a
// size threshold; Kirin's content store streams blobs that are small enough
// in practice for this to remain correct (and simpler than tracking
// multipart session state here, which belongs to the dittofs-style
// IncrementalWriteStore capability if ever needed).
type s3Writer struct {
	ctx    context.Context
	store  *Store
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.Write(w.ctx, w.key, w.buf.Bytes())
}

func (s *Store) OpenWrite(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, store: s, key: key}, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, kirinerr.NewBackendError("s3store.Exists", true, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return kirinerr.NewBackendError("s3store.Delete", true, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, kirinerr.NewBackendError("s3store.List", true, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = key[len(s.prefix)+1:]
			}
			out = append(out, key)
		}
	}
	return out, nil
}
