// Package catalog implements Kirin's directory convention over a backend
// root (spec.md §4.6): listing dataset names, constructing Dataset views,
// and routing cross-dataset file lookups through the File Index.
//
// Modeled on a branch manager's ref-listing walk (refs directory -> name
// list), adapted from listing branch ref files to listing dataset
// directories.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"kirin/pkg/dataset"
	"kirin/pkg/fileindex"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore"
)

const datasetsPrefix = "datasets/"

// Catalog is the set of datasets discovered under one backend root
// (spec.md §3 "Catalog").
type Catalog struct {
	backend objectstore.Store
	index   *fileindex.Index
	logger  zerolog.Logger

	mu   sync.Mutex
	open map[string]*dataset.Dataset
}

// Open returns a Catalog over backend.
func Open(backend objectstore.Store, logger zerolog.Logger) *Catalog {
	return &Catalog{
		backend: backend,
		index:   fileindex.New(backend),
		logger:  logger,
		open:    map[string]*dataset.Dataset{},
	}
}

// ListDatasets lists every dataset name present under datasets/ (spec.md
// §4.6): the immediate subdirectory names, derived from the commits.json
// keys since the backend abstraction has no native directory listing.
func (c *Catalog) ListDatasets(ctx context.Context) ([]string, error) {
	keys, err := c.backend.List(ctx, datasetsPrefix)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, datasetsPrefix)
		idx := strings.Index(rest, "/")
		if idx <= 0 {
			continue
		}
		seen[rest[:idx]] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetDataset returns a Dataset view for name, constructing it (lazily, with
// no on-disk side effect until the first commit) if not already open
// (spec.md §3 "Datasets are created lazily on first commit").
func (c *Catalog) GetDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ds, ok := c.open[name]; ok {
		return ds, nil
	}

	ds, err := dataset.Open(ctx, c.backend, name, c.logger)
	if err != nil {
		return nil, err
	}
	c.open[name] = ds
	return ds, nil
}

// FindDatasetsWithFile delegates to the File Index's lookup, returning
// every dataset that references hash (spec.md §4.6).
func (c *Catalog) FindDatasetsWithFile(ctx context.Context, hash kirinhash.Hash) (map[string][]fileindex.Entry, error) {
	return c.index.Lookup(ctx, hash)
}

// CleanupOrphanedFiles runs cleanup_orphaned_files (spec.md §4.4.5) for
// name's dataset, computing "referenced elsewhere" by opening every other
// dataset listed under datasets/ and collecting the hashes referenced by its
// commits. The File Index is not consulted.
func (c *Catalog) CleanupOrphanedFiles(ctx context.Context, name string) (int, error) {
	target, err := c.GetDataset(ctx, name)
	if err != nil {
		return 0, err
	}

	names, err := c.ListDatasets(ctx)
	if err != nil {
		return 0, err
	}

	referenced := map[kirinhash.Hash]bool{}
	for _, other := range names {
		if other == name {
			continue
		}
		ds, err := c.GetDataset(ctx, other)
		if err != nil {
			return 0, err
		}
		for h := range ds.ReferencedHashes() {
			referenced[h] = true
		}
	}

	return target.CleanupOrphanedFiles(ctx, referenced)
}

// Rebuild re-derives the file index from scratch across every dataset in
// the catalog (spec.md §4.5 "rebuild(catalog)").
func (c *Catalog) Rebuild(ctx context.Context) error {
	return c.index.Rebuild(ctx, catalogSource{c})
}

// catalogSource adapts Catalog to fileindex.CatalogSource without creating
// an import cycle (fileindex must not import catalog or dataset).
type catalogSource struct {
	c *Catalog
}

func (s catalogSource) Datasets(ctx context.Context) ([]string, error) {
	return s.c.ListDatasets(ctx)
}

func (s catalogSource) Commits(ctx context.Context, name string) ([]fileindex.CommitView, error) {
	ds, err := s.c.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}

	history := ds.History(0)
	views := make([]fileindex.CommitView, len(history))
	for i, c := range history {
		files := make(map[string]string, len(c.Files))
		for name, f := range c.Files {
			files[name] = string(f.Hash)
		}
		views[i] = fileindex.CommitView{Hash: string(c.Hash), Timestamp: c.Timestamp, Files: files}
	}
	return views, nil
}
