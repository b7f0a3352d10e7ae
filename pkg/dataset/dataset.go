// Package dataset implements Kirin's public versioning API (spec.md §4.4):
// commit, checkout, history/find/compare, file access, a scoped
// local_files() materialization, and cleanup_orphaned_files.
//
// Modeled on a façade that composes a CAS, commit manager and HEAD cursor
// behind a single mutex-guarded store, generalized from a single KV
// working-state to Kirin's filename->File map per commit, and from a
// prolly-tree diff to the flat Diff struct of §4.4.4.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kirin/pkg/commitstore"
	"kirin/pkg/contentstore"
	"kirin/pkg/fileindex"
	"kirin/pkg/kirinerr"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore"
	"kirin/pkg/serializer"
)

// File is an immutable record describing one versioned file (spec.md §3).
type File struct {
	Hash        kirinhash.Hash
	Name        string
	Size        uint64
	ContentType string // empty if unknown
}

// Commit is an immutable, in-memory view of a CommitRecord (spec.md §3).
type Commit struct {
	Hash       kirinhash.Hash
	Message    string
	Timestamp  time.Time
	ParentHash kirinhash.Hash // kirinhash.Zero for the first commit
	Files      map[string]File
	Metadata   map[string]any
	Tags       []string
}

// FilesDiff is the added/removed/changed file set between two commits.
type FilesDiff struct {
	Added   map[string]File
	Removed map[string]File
	Changed map[string][2]File // filename -> [before, after]
}

// MetadataDiff is the top-level and one-level-deep models.* metadata delta
// between two commits (spec.md §4.4.4).
type MetadataDiff struct {
	Added   map[string]any
	Removed map[string]any
	Changed map[string][2]any
}

// TagsDiff is the tag delta between two commits.
type TagsDiff struct {
	Added   []string
	Removed []string
}

// Diff is the result of compare_commits (spec.md §4.4.4).
type Diff struct {
	Files    FilesDiff
	Metadata MetadataDiff
	Tags     TagsDiff
}

// AddFileInput is one element of a commit's add_files list (spec.md §4.4.1).
// Construct with FromPath, FromBytes or FromArtifact.
type AddFileInput struct {
	path         string
	filename     string
	bytes        []byte
	hasBytes     bool
	artifact     any
	hasArtifact  bool
	variableName string
}

// FromPath adds the file at a filesystem path; the stored filename is its
// basename.
func FromPath(path string) AddFileInput {
	return AddFileInput{path: path}
}

// FromBytes adds an in-memory (filename, bytes) tuple directly.
func FromBytes(filename string, data []byte) AddFileInput {
	return AddFileInput{filename: filename, bytes: data, hasBytes: true}
}

// FromArtifact adds an in-memory artifact resolved through the dataset's
// serializer registry. variableName stands in for the caller's binding
// name (spec.md §4.4.6's "variable name of the caller's binding"); pass ""
// to fall back to the serializer's generic name.
func FromArtifact(variableName string, artifact any) AddFileInput {
	return AddFileInput{artifact: artifact, hasArtifact: true, variableName: variableName}
}

// CommitOptions bundles commit()'s optional arguments.
type CommitOptions struct {
	AddFiles    []AddFileInput
	RemoveFiles []string
	Metadata    map[string]any
	Tags        []string
}

// Dataset is the public versioning API for one (root, name) pair (spec.md
// §3 "Dataset"). A Dataset instance is not safe for concurrent commit()
// calls from multiple goroutines beyond the serialization its own mutex
// provides for in-process callers; cross-process concurrent writers race
// per spec.md §5.
type Dataset struct {
	mu sync.RWMutex

	name    string
	content *contentstore.Store
	commits *commitstore.Store
	index   *fileindex.Index
	logger  zerolog.Logger

	registry *serializer.Registry

	cached []Commit // oldest-first, mirrors commitstore's log
	head   kirinhash.Hash
}

// Open loads (or lazily prepares) the dataset named name over backend.
// Per spec.md §3 "Datasets are created lazily on first commit", Open never
// writes anything; an absent commits.json simply yields an empty dataset.
func Open(ctx context.Context, backend objectstore.Store, name string, logger zerolog.Logger) (*Dataset, error) {
	ds := &Dataset{
		name:     name,
		content:  contentstore.New(backend),
		commits:  commitstore.New(backend, name),
		index:    fileindex.New(backend),
		logger:   logger.With().Str("dataset", name).Logger(),
		registry: serializer.NewRegistry(),
	}
	if err := ds.reload(ctx); err != nil {
		return nil, err
	}
	return ds, nil
}

// Registry returns the dataset's artifact-serializer registry, for callers
// to Register concrete artifact types against before calling Commit.
func (d *Dataset) Registry() *serializer.Registry { return d.registry }

func (d *Dataset) reload(ctx context.Context) error {
	records, err := d.commits.Load(ctx)
	if err != nil {
		return err
	}

	commits := make([]Commit, len(records))
	for i, r := range records {
		c, err := fromRecord(r)
		if err != nil {
			return err
		}
		commits[i] = c
	}

	d.cached = commits
	if len(commits) > 0 {
		d.head = commits[len(commits)-1].Hash
	} else {
		d.head = kirinhash.Zero
	}
	return nil
}

func fromRecord(r commitstore.CommitRecord) (Commit, error) {
	hash, err := kirinhash.Parse(r.Hash)
	if err != nil {
		return Commit{}, kirinerr.NewIntegrityError("commit hash " + r.Hash + ": " + err.Error())
	}

	var parent kirinhash.Hash
	if r.ParentHash != nil {
		parent, err = kirinhash.Parse(*r.ParentHash)
		if err != nil {
			return Commit{}, kirinerr.NewIntegrityError("parent hash " + *r.ParentHash + ": " + err.Error())
		}
	}

	files := make(map[string]File, len(r.Files))
	for name, fr := range r.Files {
		fh, err := kirinhash.Parse(fr.Hash)
		if err != nil {
			return Commit{}, kirinerr.NewIntegrityError("file hash for " + name + ": " + err.Error())
		}
		ct := ""
		if fr.ContentType != nil {
			ct = *fr.ContentType
		}
		files[name] = File{Hash: fh, Name: fr.Name, Size: fr.Size, ContentType: ct}
	}

	var metadata map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return Commit{}, kirinerr.NewIntegrityError("metadata for commit " + r.Hash + ": " + err.Error())
		}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}

	return Commit{
		Hash:       hash,
		Message:    r.Message,
		Timestamp:  r.Timestamp,
		ParentHash: parent,
		Files:      files,
		Metadata:   metadata,
		Tags:       tags,
	}, nil
}

func toRecord(c Commit) (commitstore.CommitRecord, error) {
	files := make(map[string]commitstore.FileRecord, len(c.Files))
	for name, f := range c.Files {
		var ct *string
		if f.ContentType != "" {
			v := f.ContentType
			ct = &v
		}
		files[name] = commitstore.FileRecord{Hash: string(f.Hash), Name: f.Name, Size: f.Size, ContentType: ct}
	}

	var parent *string
	if !c.ParentHash.IsZero() {
		v := string(c.ParentHash)
		parent = &v
	}

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return commitstore.CommitRecord{}, err
	}

	return commitstore.CommitRecord{
		Hash:       string(c.Hash),
		Message:    c.Message,
		Timestamp:  c.Timestamp,
		ParentHash: parent,
		Files:      files,
		Metadata:   metadata,
		Tags:       c.Tags,
	}, nil
}

func dedupTagsPreserveOrder(tags []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// parentCommit returns the commit store's actual last entry, NOT the HEAD
// cursor: spec.md's resolved Open Question is that commit() always extends
// the tail regardless of a detached HEAD.
func (d *Dataset) parentCommit() (Commit, bool) {
	if len(d.cached) == 0 {
		return Commit{}, false
	}
	return d.cached[len(d.cached)-1], true
}

// Commit applies add_files/remove_files/metadata/tags atop the commit
// store's current tail and appends a new commit (spec.md §4.4.1).
func (d *Dataset) Commit(ctx context.Context, message string, opts CommitOptions) (kirinhash.Hash, error) {
	if message == "" {
		return "", kirinerr.NewArgumentError("dataset.Commit", "message must not be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parent, hasParent := d.parentCommit()

	files := map[string]File{}
	for name, f := range parent.Files {
		files[name] = f
	}

	for _, name := range opts.RemoveFiles {
		if _, ok := files[name]; !ok {
			return "", &kirinerr.FileNotInDatasetError{Dataset: d.name, Filename: name}
		}
		delete(files, name)
	}

	extractedModels := map[string]any{}
	for _, add := range opts.AddFiles {
		name, f, extracted, err := d.resolveAddFile(ctx, add)
		if err != nil {
			return "", err
		}
		files[name] = f
		if add.hasArtifact && add.variableName != "" && extracted != nil {
			extractedModels[add.variableName] = extracted
		}
	}

	base := parentMetadata(parent, hasParent)
	if len(extractedModels) > 0 {
		base = withExtractedModels(base, extractedModels)
	}
	metadata := mergeMetadata(base, opts.Metadata)
	tags := dedupTagsPreserveOrder(opts.Tags)

	parentHash := kirinhash.Zero
	if hasParent {
		parentHash = parent.Hash
	}

	if hasParent && !changed(parent, files, metadata, tags) {
		return "", &kirinerr.NoChangesError{Dataset: d.name}
	}

	fileHashes := make([]kirinhash.Hash, 0, len(files))
	for _, f := range files {
		fileHashes = append(fileHashes, f.Hash)
	}

	timestamp := time.Now().UTC()
	hash := kirinhash.CommitHash(kirinhash.CanonicalCommitInput{
		FileHashes: fileHashes,
		Message:    message,
		ParentHash: parentHash,
		Timestamp:  timestamp,
	})

	commit := Commit{
		Hash:       hash,
		Message:    message,
		Timestamp:  timestamp,
		ParentHash: parentHash,
		Files:      files,
		Metadata:   metadata,
		Tags:       tags,
	}

	record, err := toRecord(commit)
	if err != nil {
		return "", err
	}
	if err := d.commits.Append(ctx, record); err != nil {
		return "", err
	}

	d.cached = append(d.cached, commit)
	d.head = hash

	d.updateIndex(ctx, parent, hasParent, commit)

	d.logger.Info().Str("commit", hash.Short()).Str("size", humanize.Bytes(totalSize(files))).
		Msg("commit recorded")

	return hash, nil
}

func totalSize(files map[string]File) uint64 {
	var total uint64
	for _, f := range files {
		total += f.Size
	}
	return total
}

func parentMetadata(parent Commit, hasParent bool) map[string]any {
	if !hasParent {
		return map[string]any{}
	}
	return parent.Metadata
}

// withExtractedModels places each serializer's extracted metadata at
// metadata.models[variableName], ahead of the caller-supplied override that
// mergeMetadata applies next (spec.md §4.4.1 step 5).
func withExtractedModels(base map[string]any, extracted map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	models := map[string]any{}
	if existing, ok := out["models"].(map[string]any); ok {
		for k, v := range existing {
			models[k] = v
		}
	}
	for variableName, data := range extracted {
		models[variableName] = data
	}
	out["models"] = models
	return out
}

// mergeMetadata implements spec.md §4.4.1 step 5: extracted/parent fields
// are shallowly overridden by caller-supplied ones, with metadata.models.*
// merged one level deeper.
func mergeMetadata(base, override map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	if override == nil {
		return out
	}

	baseModels, _ := out["models"].(map[string]any)
	overrideModels, hasModels := override["models"].(map[string]any)

	for k, v := range override {
		if k == "models" && hasModels {
			continue
		}
		out[k] = v
	}

	if hasModels {
		merged := map[string]any{}
		for k, v := range baseModels {
			merged[k] = v
		}
		for k, v := range overrideModels {
			merged[k] = v
		}
		out["models"] = merged
	}

	return out
}

func changed(parent Commit, files map[string]File, metadata map[string]any, tags []string) bool {
	if len(parent.Files) != len(files) {
		return true
	}
	for name, f := range files {
		pf, ok := parent.Files[name]
		if !ok || pf.Hash != f.Hash {
			return true
		}
	}
	if !jsonEqual(parent.Metadata, metadata) {
		return true
	}
	if len(parent.Tags) != len(tags) {
		return true
	}
	for i := range tags {
		if parent.Tags[i] != tags[i] {
			return true
		}
	}
	return false
}

func jsonEqual(a, b map[string]any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// resolveAddFile implements the capability-dispatch of spec.md §4.4.6:
// path -> basename; tuple -> used directly; artifact -> serializer lookup.
// The third return value carries an artifact's extracted metadata, non-nil
// only when in.hasArtifact and the serializer populated Result.Metadata.
func (d *Dataset) resolveAddFile(ctx context.Context, in AddFileInput) (string, File, map[string]any, error) {
	switch {
	case in.hasArtifact:
		s, ok := d.registry.Lookup(in.artifact)
		if !ok {
			return "", File{}, nil, kirinerr.NewArgumentError("dataset.Commit", "no serializer registered for artifact")
		}
		result, err := s.Serialize(in.artifact, in.variableName)
		if err != nil {
			return "", File{}, nil, err
		}
		h, size, err := d.content.PutStream(ctx, newByteReader(result.Data))
		if err != nil {
			return "", File{}, nil, err
		}
		f := File{Hash: h, Name: result.Filename, Size: uint64(size), ContentType: guessContentType(result.Filename)}
		return result.Filename, f, result.Metadata, nil

	case in.hasBytes:
		h, size, err := d.content.PutStream(ctx, newByteReader(in.bytes))
		if err != nil {
			return "", File{}, nil, err
		}
		return in.filename, File{Hash: h, Name: in.filename, Size: uint64(size), ContentType: guessContentType(in.filename)}, nil, nil

	default:
		h, size, err := d.content.PutPath(ctx, in.path)
		if err != nil {
			return "", File{}, nil, err
		}
		name := filepath.Base(in.path)
		return name, File{Hash: h, Name: name, Size: uint64(size), ContentType: guessContentType(name)}, nil, nil
	}
}

func guessContentType(filename string) string {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func newByteReader(b []byte) io.Reader { return &byteReaderCloser{data: b} }

type byteReaderCloser struct {
	data []byte
	pos  int
}

func (r *byteReaderCloser) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// updateIndex records every (filename, hash) pair newly introduced by
// commit relative to parent. Per spec.md §4.5's failure policy, an index
// write failure is logged at WARN and does not roll back the commit.
func (d *Dataset) updateIndex(ctx context.Context, parent Commit, hasParent bool, commit Commit) {
	for name, f := range commit.Files {
		if hasParent {
			if pf, ok := parent.Files[name]; ok && pf.Hash == f.Hash {
				continue
			}
		}
		if err := d.index.Record(ctx, f.Hash, d.name, string(commit.Hash), commit.Timestamp, name); err != nil {
			d.logger.Warn().Err(err).Str("file", name).Str("commit", commit.Hash.Short()).
				Msg("file index write failed; will be reconciled by rebuild")
		}
	}
}

// Checkout moves HEAD to the commit with hash, or to the newest commit if
// hash is nil. It never materializes files (spec.md §4.4.2).
func (d *Dataset) Checkout(hash *kirinhash.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if hash == nil {
		if len(d.cached) == 0 {
			d.head = kirinhash.Zero
			return nil
		}
		d.head = d.cached[len(d.cached)-1].Hash
		return nil
	}

	for _, c := range d.cached {
		if c.Hash == *hash {
			d.head = *hash
			return nil
		}
	}
	return &kirinerr.UnknownCommitError{Dataset: d.name, Hash: string(*hash)}
}

func (d *Dataset) headCommit() (Commit, bool) {
	if d.head.IsZero() {
		return Commit{}, false
	}
	for _, c := range d.cached {
		if c.Hash == d.head {
			return c, true
		}
	}
	return Commit{}, false
}

// Files returns a copy of HEAD's file map; empty if no commits (spec.md
// §4.4.3).
func (d *Dataset) Files() map[string]File {
	d.mu.RLock()
	defer d.mu.RUnlock()

	head, ok := d.headCommit()
	if !ok {
		return map[string]File{}
	}
	out := make(map[string]File, len(head.Files))
	for k, v := range head.Files {
		out[k] = v
	}
	return out
}

// GetFile returns the named File from HEAD, if present.
func (d *Dataset) GetFile(name string) (File, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	head, ok := d.headCommit()
	if !ok {
		return File{}, false
	}
	f, ok := head.Files[name]
	return f, ok
}

// ReadFile streams the named file's full contents from the content store.
func (d *Dataset) ReadFile(ctx context.Context, name string) ([]byte, error) {
	f, ok := d.GetFile(name)
	if !ok {
		return nil, &kirinerr.FileNotInDatasetError{Dataset: d.name, Filename: name}
	}
	return d.content.GetBytes(ctx, f.Hash)
}

// OpenFile returns a readable stream for the named file; the caller must
// close it.
func (d *Dataset) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	f, ok := d.GetFile(name)
	if !ok {
		return nil, &kirinerr.FileNotInDatasetError{Dataset: d.name, Filename: name}
	}
	return d.content.Open(ctx, f.Hash)
}

// DownloadFile streams the named file's content to targetPath.
func (d *Dataset) DownloadFile(ctx context.Context, name, targetPath string) (string, error) {
	rc, err := d.OpenFile(ctx, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(targetPath)
	if err != nil {
		return "", kirinerr.NewBackendError("dataset.DownloadFile", false, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return "", kirinerr.NewBackendError("dataset.DownloadFile", true, err)
	}
	return targetPath, nil
}

// LocalFilesHandle is the result of LocalFiles: a scoped acquisition with
// guaranteed release on Close (spec.md §4.4.3 local_files()).
type LocalFilesHandle struct {
	Paths map[string]string
	dir   string
}

// Close removes the temporary directory materialized by LocalFiles,
// covering everything that was materialized regardless of how the caller
// exits the scope (spec.md §5 "removed on exit even on abnormal
// termination").
func (h *LocalFilesHandle) Close() error {
	if h.dir == "" {
		return nil
	}
	return os.RemoveAll(h.dir)
}

// LocalFiles materializes HEAD's files into a fresh temporary directory and
// returns a handle mapping filename -> local path; the caller must Close
// the handle to release the directory (spec.md §4.4.3).
func (d *Dataset) LocalFiles(ctx context.Context) (*LocalFilesHandle, error) {
	files := d.Files()

	dir, err := os.MkdirTemp("", "kirin-"+d.name+"-"+uuid.NewString())
	if err != nil {
		return nil, kirinerr.NewBackendError("dataset.LocalFiles", false, err)
	}

	handle := &LocalFilesHandle{Paths: map[string]string{}, dir: dir}
	for name, f := range files {
		target := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			handle.Close()
			return nil, kirinerr.NewBackendError("dataset.LocalFiles", false, err)
		}

		rc, err := d.content.Open(ctx, f.Hash)
		if err != nil {
			handle.Close()
			return nil, err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			handle.Close()
			return nil, kirinerr.NewBackendError("dataset.LocalFiles", false, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			handle.Close()
			return nil, kirinerr.NewBackendError("dataset.LocalFiles", true, copyErr)
		}

		handle.Paths[name] = target
	}

	return handle, nil
}

// History returns commits newest-first, optionally truncated to limit (<=0
// means unlimited).
func (d *Dataset) History(limit int) []Commit {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Commit, len(d.cached))
	for i, c := range d.cached {
		out[len(d.cached)-1-i] = c
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// GetCommit returns the commit with the given hash, if any.
func (d *Dataset) GetCommit(hash kirinhash.Hash) (Commit, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, c := range d.cached {
		if c.Hash == hash {
			return c, true
		}
	}
	return Commit{}, false
}

// FindCommitsOptions bundles find_commits' filter parameters.
type FindCommitsOptions struct {
	Tags            []string
	MetadataFilter  func(metadata map[string]any) bool
	Limit           int
}

// FindCommits returns commits matching both filters (AND-combined),
// newest-first, optionally truncated to Limit (spec.md §4.4.4).
func (d *Dataset) FindCommits(opts FindCommitsOptions) []Commit {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Commit
	for i := len(d.cached) - 1; i >= 0; i-- {
		c := d.cached[i]
		if !hasAllTags(c.Tags, opts.Tags) {
			continue
		}
		if opts.MetadataFilter != nil && !opts.MetadataFilter(c.Metadata) {
			continue
		}
		out = append(out, c)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

func hasAllTags(commitTags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := map[string]bool{}
	for _, t := range commitTags {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

// CompareCommits computes the Diff between the commits with hashes h1 and
// h2 (spec.md §4.4.4).
func (d *Dataset) CompareCommits(h1, h2 kirinhash.Hash) (Diff, error) {
	c1, ok := d.GetCommit(h1)
	if !ok {
		return Diff{}, &kirinerr.UnknownCommitError{Dataset: d.name, Hash: string(h1)}
	}
	c2, ok := d.GetCommit(h2)
	if !ok {
		return Diff{}, &kirinerr.UnknownCommitError{Dataset: d.name, Hash: string(h2)}
	}

	return Diff{
		Files:    diffFiles(c1.Files, c2.Files),
		Metadata: diffMetadata(c1.Metadata, c2.Metadata),
		Tags:     diffTags(c1.Tags, c2.Tags),
	}, nil
}

func diffFiles(a, b map[string]File) FilesDiff {
	d := FilesDiff{Added: map[string]File{}, Removed: map[string]File{}, Changed: map[string][2]File{}}
	for name, f := range b {
		if af, ok := a[name]; !ok {
			d.Added[name] = f
		} else if af.Hash != f.Hash {
			d.Changed[name] = [2]File{af, f}
		}
	}
	for name, f := range a {
		if _, ok := b[name]; !ok {
			d.Removed[name] = f
		}
	}
	return d
}

func diffMetadata(a, b map[string]any) MetadataDiff {
	d := MetadataDiff{Added: map[string]any{}, Removed: map[string]any{}, Changed: map[string][2]any{}}
	diffTopLevel(a, b, &d)

	am, _ := a["models"].(map[string]any)
	bm, _ := b["models"].(map[string]any)
	if am != nil || bm != nil {
		inner := MetadataDiff{Added: map[string]any{}, Removed: map[string]any{}, Changed: map[string][2]any{}}
		diffTopLevel(am, bm, &inner)
		for k, v := range inner.Added {
			d.Added["models."+k] = v
		}
		for k, v := range inner.Removed {
			d.Removed["models."+k] = v
		}
		for k, v := range inner.Changed {
			d.Changed["models."+k] = v
		}
	}
	return d
}

func diffTopLevel(a, b map[string]any, d *MetadataDiff) {
	for k, bv := range b {
		if k == "models" {
			continue
		}
		av, ok := a[k]
		if !ok {
			d.Added[k] = bv
		} else if !jsonEqualValue(av, bv) {
			d.Changed[k] = [2]any{av, bv}
		}
	}
	for k, av := range a {
		if k == "models" {
			continue
		}
		if _, ok := b[k]; !ok {
			d.Removed[k] = av
		}
	}
}

func jsonEqualValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func diffTags(a, b []string) TagsDiff {
	aSet := map[string]bool{}
	for _, t := range a {
		aSet[t] = true
	}
	bSet := map[string]bool{}
	for _, t := range b {
		bSet[t] = true
	}

	var d TagsDiff
	for _, t := range b {
		if !aSet[t] {
			d.Added = append(d.Added, t)
		}
	}
	for _, t := range a {
		if !bSet[t] {
			d.Removed = append(d.Removed, t)
		}
	}
	return d
}

// ReferencedHashes returns every distinct file hash referenced by any
// commit in this dataset, used by cleanup_orphaned_files across the
// catalog.
func (d *Dataset) ReferencedHashes() map[kirinhash.Hash]bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := map[kirinhash.Hash]bool{}
	for _, c := range d.cached {
		for _, f := range c.Files {
			out[f.Hash] = true
		}
	}
	return out
}

// Name returns the dataset's name.
func (d *Dataset) Name() string { return d.name }

// Status returns a one-line, human-readable summary of HEAD: the commit,
// how long ago it landed, its file count and total blob size.
func (d *Dataset) Status() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	head, ok := d.headCommit()
	if !ok {
		return fmt.Sprintf("dataset %q: no commits yet", d.name)
	}
	return fmt.Sprintf("dataset %q: HEAD %s, %s, %d files, %s",
		d.name, head.Hash.Short(), humanize.Time(head.Timestamp), len(head.Files), humanize.Bytes(totalSize(head.Files)))
}

// CleanupOrphanedFiles deletes every blob in the content store not
// referenced by any commit across the whole catalog (spec.md §4.4.5).
// referencedElsewhere is the union of ReferencedHashes() from every other
// dataset in the catalog; typically supplied by pkg/catalog.
func (d *Dataset) CleanupOrphanedFiles(ctx context.Context, referencedElsewhere map[kirinhash.Hash]bool) (int, error) {
	live := d.ReferencedHashes()
	for h := range referencedElsewhere {
		live[h] = true
	}

	all, err := d.content.ListHashes(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, h := range all {
		if live[h] {
			continue
		}
		if err := d.content.Delete(ctx, h); err != nil {
			return deleted, err
		}
		if err := d.index.Forget(ctx, h, "", ""); err != nil {
			d.logger.Warn().Err(err).Str("hash", h.Short()).
				Msg("file index cleanup failed; will be reconciled by rebuild")
		}
		deleted++
	}
	return deleted, nil
}
