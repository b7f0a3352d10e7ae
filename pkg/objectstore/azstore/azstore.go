// Package azstore implements objectstore.Store over Azure Blob Storage,
// backing the az:// storage URI scheme (spec.md §6). Grounded on the
// azure-sdk-for-go wiring in the distribution-distribution and storj-storj
// manifests.
package azstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"kirin/pkg/kirinerr"
)

// Config configures the Azure backend. Credentials, when it carries
// "connection_string", builds the client from it; otherwise, when it
// carries "account_name"/"account_key", an explicit shared-key credential
// is built; otherwise the SDK's default Azure credential chain is used.
type Config struct {
	Container   string
	Prefix      string
	ServiceURL  string
	Credentials map[string]string
}

// Store implements objectstore.Store over an Azure Storage container/prefix.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New constructs a Store, resolving credentials the way the SDK's own
// client constructors do.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var (
		client *azblob.Client
		err    error
	)

	switch {
	case cfg.Credentials["connection_string"] != "":
		client, err = azblob.NewClientFromConnectionString(cfg.Credentials["connection_string"], nil)

	case cfg.Credentials["account_name"] != "" && cfg.Credentials["account_key"] != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.Credentials["account_name"], cfg.Credentials["account_key"])
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(cfg.ServiceURL, cred, nil)
		}

	default:
		var cred azcore.TokenCredential
		client, err = azblob.NewClient(cfg.ServiceURL, cred, nil)
	}

	if err != nil {
		return nil, kirinerr.NewBackendError("azstore.New", false, err)
	}

	return &Store{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
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
		return nil, kirinerr.NewBackendError("azstore.Read", true, err)
	}
	return data, nil
}

func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(key), nil)
	if err != nil {
		return nil, kirinerr.NewBackendError("azstore.OpenRead", true, err)
	}
	return resp.Body, nil
}

// Write uploads the full buffer with a single UploadBuffer call, which the
// SDK performs as one atomic PUT Blob (or a managed block-blob upload for
// larger payloads) — satisfying spec.md §4.1's atomic-or-retry requirement.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, s.fullKey(key), data, nil)
	if err != nil {
		return kirinerr.NewBackendError("azstore.Write", true, err)
	}
	return nil
}

type azWriter struct {
	ctx   context.Context
	store *Store
	key   string
	buf   bytes.Buffer
}

func (w *azWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *azWriter) Close() error                { return w.store.Write(w.ctx, w.key, w.buf.Bytes()) }

func (s *Store) OpenWrite(ctx context.Context, key string) (io.WriteCloser, error) {
	return &azWriter{ctx: ctx, store: s, key: key}, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(s.fullKey(key))
	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, kirinerr.NewBackendError("azstore.Exists", true, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(s.fullKey(key))
	_, err := blobClient.Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return kirinerr.NewBackendError("azstore.Delete", true, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	full := s.fullKey(prefix)
	pager := s.client.NewListBlobsFlatPager(s.container, &container.ListBlobsFlatOptions{
		Prefix: &full,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, kirinerr.NewBackendError("azstore.List", true, err)
		}
		for _, item := range page.Segment.BlobItems {
			name := *item.Name
			if s.prefix != "" {
				name = strings.TrimPrefix(name, s.prefix+"/")
			}
			out = append(out, name)
		}
	}
	return out, nil
}
