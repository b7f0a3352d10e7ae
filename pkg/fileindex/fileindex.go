// Package fileindex implements Kirin's cross-dataset reverse index (spec.md
// §4.5): a sharded set of JSON documents at index/files/{hh}/{rest}.json
// mapping a content hash back to every (dataset, commit, filename) triple
// that references it.
//
// Grounded on contentstore's {hh}/{rest} sharding idiom and a ref-file-per-
// entity style for the "read-modify-write a small JSON document" operation
// shape.
package fileindex

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"kirin/pkg/kirinerr"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore"
)

// Entry is one commit's reference to a hash within a single dataset.
type Entry struct {
	CommitHash string    `json:"commit_hash"`
	Timestamp  time.Time `json:"timestamp"`
	Filenames  []string  `json:"filenames"`
}

// shard is the on-disk shape of index/files/{hh}/{rest}.json.
type shard struct {
	FileHash string             `json:"file_hash"`
	Datasets map[string][]Entry `json:"datasets"`
}

func shardKey(h kirinhash.Hash) string {
	prefix, rest := h.ShardPath()
	return "index/files/" + prefix + "/" + rest + ".json"
}

// Index persists the reverse file index over an objectstore.Store.
type Index struct {
	backend objectstore.Store
}

// New wraps backend as a file index.
func New(backend objectstore.Store) *Index {
	return &Index{backend: backend}
}

func (idx *Index) loadShard(ctx context.Context, h kirinhash.Hash) (shard, bool, error) {
	key := shardKey(h)
	exists, err := idx.backend.Exists(ctx, key)
	if err != nil {
		return shard{}, false, err
	}
	if !exists {
		return shard{FileHash: string(h), Datasets: map[string][]Entry{}}, false, nil
	}

	raw, err := idx.backend.Read(ctx, key)
	if err != nil {
		return shard{}, false, err
	}
	var s shard
	if err := json.Unmarshal(raw, &s); err != nil {
		return shard{}, false, kirinerr.NewIntegrityError("malformed file index shard for " + string(h) + ": " + err.Error())
	}
	if s.Datasets == nil {
		s.Datasets = map[string][]Entry{}
	}
	return s, true, nil
}

func (idx *Index) writeShard(ctx context.Context, h kirinhash.Hash, s shard) error {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return idx.backend.Write(ctx, shardKey(h), out)
}

// Record appends filename to the reverse index entry for (hash, dataset,
// commitHash), creating the shard and/or entry if absent (spec.md §4.5
// "append filename to the most recent matching entry ... otherwise append a
// new entry").
func (idx *Index) Record(ctx context.Context, h kirinhash.Hash, dataset, commitHash string, timestamp time.Time, filename string) error {
	s, _, err := idx.loadShard(ctx, h)
	if err != nil {
		return err
	}

	entries := s.Datasets[dataset]
	matched := false
	for i := range entries {
		if entries[i].CommitHash == commitHash {
			if !containsString(entries[i].Filenames, filename) {
				entries[i].Filenames = append(entries[i].Filenames, filename)
			}
			matched = true
			break
		}
	}
	if !matched {
		entries = append(entries, Entry{
			CommitHash: commitHash,
			Timestamp:  timestamp,
			Filenames:  []string{filename},
		})
	}
	s.Datasets[dataset] = entries

	return idx.writeShard(ctx, h, s)
}

// Lookup returns every dataset->entries mapping recorded for hash. Returns
// an empty map if no shard exists.
func (idx *Index) Lookup(ctx context.Context, h kirinhash.Hash) (map[string][]Entry, error) {
	s, _, err := idx.loadShard(ctx, h)
	if err != nil {
		return nil, err
	}
	return s.Datasets, nil
}

// Forget prunes index entries for hash. If dataset is empty, every dataset's
// entries are removed. If dataset is non-empty and commit is empty, every
// entry for that dataset is removed; otherwise only the named commit's
// entry. The shard is deleted entirely once it references no datasets
// (spec.md §4.5 "delete shard if empty").
func (idx *Index) Forget(ctx context.Context, h kirinhash.Hash, dataset, commit string) error {
	s, existed, err := idx.loadShard(ctx, h)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}

	switch {
	case dataset == "":
		s.Datasets = map[string][]Entry{}
	case commit == "":
		delete(s.Datasets, dataset)
	default:
		entries := s.Datasets[dataset]
		kept := entries[:0]
		for _, e := range entries {
			if e.CommitHash != commit {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.Datasets, dataset)
		} else {
			s.Datasets[dataset] = kept
		}
	}

	if len(s.Datasets) == 0 {
		return idx.backend.Delete(ctx, shardKey(h))
	}
	return idx.writeShard(ctx, h, s)
}

// CatalogSource yields every commit of every dataset, for Rebuild. Kept
// narrow so fileindex does not import dataset/catalog (which themselves
// depend on fileindex).
type CatalogSource interface {
	// Datasets lists every dataset name in the catalog.
	Datasets(ctx context.Context) ([]string, error)
	// Commits lists every commit of the named dataset, any order.
	Commits(ctx context.Context, dataset string) ([]CommitView, error)
}

// CommitView is the minimal commit shape Rebuild needs from a catalog.
type CommitView struct {
	Hash      string
	Timestamp time.Time
	Files     map[string]string // filename -> hash
}

// Rebuild re-derives the entire index from scratch by iterating every
// commit of every dataset in src (spec.md §4.5 "rebuild(catalog)"). Existing
// shards are not cleared first; callers that want a pristine rebuild should
// point Rebuild at a fresh backend root.
func (idx *Index) Rebuild(ctx context.Context, src CatalogSource) error {
	datasets, err := src.Datasets(ctx)
	if err != nil {
		return err
	}
	sort.Strings(datasets)

	for _, dataset := range datasets {
		commits, err := src.Commits(ctx, dataset)
		if err != nil {
			return err
		}
		for _, c := range commits {
			filenames := make([]string, 0, len(c.Files))
			for name := range c.Files {
				filenames = append(filenames, name)
			}
			sort.Strings(filenames)

			for _, name := range filenames {
				h, err := kirinhash.Parse(c.Files[name])
				if err != nil {
					return kirinerr.NewIntegrityError("rebuild: invalid hash in commit " + c.Hash + ": " + err.Error())
				}
				if err := idx.Record(ctx, h, dataset, c.Hash, c.Timestamp, name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containsString(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
