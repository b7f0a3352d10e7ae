// Package commitstore implements Kirin's per-dataset commit log (spec.md
// §4.3): an append-only, ordered list of commits persisted as a single JSON
// document at datasets/{name}/commits.json.
//
// Modeled on a commit-manager's marshal/unmarshal-and-walk-the-parent-chain
// shape, plus a head manager's atomic-file-write idiom, adapted from
// one-CAS-object-per-commit to a single append-only JSON document per
// spec.md's wire format (§6).
package commitstore

import (
	"context"
	"encoding/json"
	"time"

	"kirin/pkg/kirinerr"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore"
)

// FileRecord is the on-disk shape of a File within a CommitRecord (spec.md §6).
type FileRecord struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	Size        uint64  `json:"size"`
	ContentType *string `json:"content_type"`
}

// CommitRecord is the canonical on-disk serialization of a Commit (spec.md §6).
//
// Extra is every key the document had that this type doesn't know about; it
// is preserved verbatim on rewrite so forward-compatible fields round-trip
// (spec.md §6 "Unknown keys ... MUST be preserved on rewrite").
type CommitRecord struct {
	Hash       string                `json:"hash"`
	Message    string                `json:"message"`
	Timestamp  time.Time             `json:"timestamp"`
	ParentHash *string               `json:"parent_hash"`
	Files      map[string]FileRecord `json:"files"`
	Metadata   json.RawMessage       `json:"metadata"`
	Tags       []string              `json:"tags"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// document is the JSON shape of datasets/{name}/commits.json (spec.md §4.3).
type document struct {
	DatasetName string         `json:"dataset_name"`
	Commits     []CommitRecord `json:"commits"`
}

// MarshalJSON merges Extra back in alongside the known fields.
func (c CommitRecord) MarshalJSON() ([]byte, error) {
	type alias CommitRecord
	known, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, already := merged[k]; !already {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures unrecognized keys into Extra.
func (c *CommitRecord) UnmarshalJSON(data []byte) error {
	type alias CommitRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = CommitRecord(a)

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"hash": true, "message": true, "timestamp": true, "parent_hash": true,
		"files": true, "metadata": true, "tags": true,
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = map[string]json.RawMessage{}
		}
		c.Extra[k] = v
	}
	return nil
}

func commitsKey(datasetName string) string {
	return "datasets/" + datasetName + "/commits.json"
}

// Store persists the commit log for one dataset over an objectstore.Store.
type Store struct {
	backend     objectstore.Store
	datasetName string
}

// New returns a Store for the named dataset over backend.
func New(backend objectstore.Store, datasetName string) *Store {
	return &Store{backend: backend, datasetName: datasetName}
}

// Load returns every commit, oldest first; an empty slice if commits.json
// does not exist yet.
func (s *Store) Load(ctx context.Context) ([]CommitRecord, error) {
	doc, _, err := s.loadDocument(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Commits, nil
}

// loadDocument returns the parsed document and its raw bytes (the raw bytes
// serve as an optimistic-concurrency token for Append).
func (s *Store) loadDocument(ctx context.Context) (document, []byte, error) {
	exists, err := s.backend.Exists(ctx, commitsKey(s.datasetName))
	if err != nil {
		return document{}, nil, err
	}
	if !exists {
		return document{DatasetName: s.datasetName, Commits: []CommitRecord{}}, nil, nil
	}

	raw, err := s.backend.Read(ctx, commitsKey(s.datasetName))
	if err != nil {
		return document{}, nil, err
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, nil, kirinerr.NewIntegrityError("malformed commits.json for dataset " + s.datasetName + ": " + err.Error())
	}
	return doc, raw, nil
}

// Append adds commit to the tail of the log and persists the full document.
// This is a read-modify-write; if another writer's append is observed to
// have landed in between (the document's raw bytes changed underneath us),
// Append fails with a *kirinerr.ConcurrentWriteError rather than silently
// clobbering it (spec.md §4.3/§5 "one will lose with ConcurrentWriteError").
func (s *Store) Append(ctx context.Context, commit CommitRecord) error {
	doc, before, err := s.loadDocument(ctx)
	if err != nil {
		return err
	}

	doc.Commits = append(doc.Commits, commit)
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &kirinerr.CommitPersistError{Dataset: s.datasetName, Source: err}
	}

	if changed, cerr := s.documentChangedSince(ctx, before); cerr != nil {
		return cerr
	} else if changed {
		return &kirinerr.ConcurrentWriteError{Dataset: s.datasetName}
	}

	if err := s.backend.Write(ctx, commitsKey(s.datasetName), out); err != nil {
		return &kirinerr.CommitPersistError{Dataset: s.datasetName, Source: err}
	}
	return nil
}

func (s *Store) documentChangedSince(ctx context.Context, before []byte) (bool, error) {
	exists, err := s.backend.Exists(ctx, commitsKey(s.datasetName))
	if err != nil {
		return false, err
	}
	if !exists {
		return before != nil, nil
	}
	current, err := s.backend.Read(ctx, commitsKey(s.datasetName))
	if err != nil {
		return false, err
	}
	return string(current) != string(before), nil
}

// Get returns the commit with the given hash, or ok=false if absent.
func (s *Store) Get(ctx context.Context, hash kirinhash.Hash) (CommitRecord, bool, error) {
	commits, err := s.Load(ctx)
	if err != nil {
		return CommitRecord{}, false, err
	}
	for _, c := range commits {
		if c.Hash == string(hash) {
			return c, true, nil
		}
	}
	return CommitRecord{}, false, nil
}

// Head returns the newest commit, or ok=false if the log is empty.
func (s *Store) Head(ctx context.Context) (CommitRecord, bool, error) {
	commits, err := s.Load(ctx)
	if err != nil {
		return CommitRecord{}, false, err
	}
	if len(commits) == 0 {
		return CommitRecord{}, false, nil
	}
	return commits[len(commits)-1], true, nil
}
