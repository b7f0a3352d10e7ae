package dataset

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	"kirin/pkg/contentstore"
	"kirin/pkg/kirinerr"
	"kirin/pkg/kirinhash"
	"kirin/pkg/objectstore/localfs"
	"kirin/pkg/serializer"
)

// newTestDataset accepts both *testing.T and *rapid.T; the latter does not
// implement testing.TB.
func newTestDataset(t interface{ Fatalf(string, ...any) }, name string) *Dataset {
	ds, err := Open(context.Background(), localfs.NewMemory(), name, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return ds
}

func TestCommit_EmptyMessageIsArgumentError(t *testing.T) {
	ds := newTestDataset(t, "d")
	_, err := ds.Commit(context.Background(), "", CommitOptions{})
	var argErr *kirinerr.ArgumentError
	if !asType(err, &argErr) {
		t.Fatalf("expected *kirinerr.ArgumentError, got %v", err)
	}
}

func TestCommit_RemovingUnknownFileFails(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")
	if _, err := ds.Commit(ctx, "init", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("x"))}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, err := ds.Commit(ctx, "rm", CommitOptions{RemoveFiles: []string{"missing.txt"}})
	var fnide *kirinerr.FileNotInDatasetError
	if !asType(err, &fnide) {
		t.Fatalf("expected *kirinerr.FileNotInDatasetError, got %v", err)
	}
}

// TestProperty_IdempotentFilenameRaisesNoChanges validates spec.md §8
// property 6.
func TestProperty_IdempotentFilenameRaisesNoChanges(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		ds := newTestDataset(t, "d")
		content := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "content")

		if _, err := ds.Commit(ctx, "init", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", content)}}); err != nil {
			t.Fatalf("initial Commit: %v", err)
		}

		_, err := ds.Commit(ctx, "repeat", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", content)}})
		var nc *kirinerr.NoChangesError
		if !asType(err, &nc) {
			t.Fatalf("expected *kirinerr.NoChangesError, got %v", err)
		}
	})
}

// TestProperty_ChainIntegrity validates spec.md §8 property 2 at the
// Dataset level: every non-first commit's ParentHash equals its
// predecessor's Hash, and the first has a zero ParentHash.
func TestProperty_ChainIntegrity(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		ds := newTestDataset(t, "d")
		n := rapid.IntRange(1, 8).Draw(t, "n")

		for i := 0; i < n; i++ {
			content := []byte{byte(i), byte(i + 1)}
			if _, err := ds.Commit(ctx, "c", CommitOptions{AddFiles: []AddFileInput{FromBytes("f.txt", content)}}); err != nil {
				t.Fatalf("Commit %d: %v", i, err)
			}
		}

		history := ds.History(0) // newest-first
		if len(history) != n {
			t.Fatalf("expected %d commits, got %d", n, len(history))
		}
		for i, c := range history {
			if i == len(history)-1 {
				if !c.ParentHash.IsZero() {
					t.Fatalf("expected first commit to have zero parent, got %v", c.ParentHash)
				}
				continue
			}
			if c.ParentHash != history[i+1].Hash {
				t.Fatalf("chain broken at index %d", i)
			}
		}
	})
}

func TestCheckout_UnknownHashFails(t *testing.T) {
	ds := newTestDataset(t, "d")
	bogus := kirinhash.Of([]byte("nope"))
	err := ds.Checkout(&bogus)
	var uce *kirinerr.UnknownCommitError
	if !asType(err, &uce) {
		t.Fatalf("expected *kirinerr.UnknownCommitError, got %v", err)
	}
}

func TestCheckout_MovesHeadWithoutMaterializing(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")
	h1, err := ds.Commit(ctx, "c1", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("1"))}})
	if err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	if _, err := ds.Commit(ctx, "c2", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("2"))}}); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	if err := ds.Checkout(&h1); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	f, ok := ds.GetFile("a.txt")
	if !ok {
		t.Fatal("expected a.txt after checkout to c1")
	}
	if string(f.Hash) != string(kirinhash.Of([]byte("1"))) {
		t.Fatal("expected HEAD file content to reflect checked-out commit")
	}
}

func TestLocalFiles_MaterializesAndCleansUp(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")
	if _, err := ds.Commit(ctx, "init", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("hello"))}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	handle, err := ds.LocalFiles(ctx)
	if err != nil {
		t.Fatalf("LocalFiles: %v", err)
	}
	path, ok := handle.Paths["a.txt"]
	if !ok {
		t.Fatal("expected a.txt materialized")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content: %s", data)
	}

	dir := handle.dir
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected temp dir to be removed after Close")
	}
}

func TestFindCommits_TagsAndMetadataFilterCombineWithAnd(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")

	if _, err := ds.Commit(ctx, "c1", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("1"))},
		Tags:     []string{"prod"},
		Metadata: map[string]any{"acc": 0.9},
	}); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	if _, err := ds.Commit(ctx, "c2", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("2"))},
		Tags:     []string{"staging"},
		Metadata: map[string]any{"acc": 0.95},
	}); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	results := ds.FindCommits(FindCommitsOptions{
		Tags: []string{"prod"},
		MetadataFilter: func(m map[string]any) bool {
			acc, _ := m["acc"].(float64)
			return acc >= 0.5
		},
	})
	if len(results) != 1 || results[0].Message != "c1" {
		t.Fatalf("expected only c1 to match, got %v", results)
	}
}

func TestCompareCommits_ReportsFilesMetadataAndTagsDiff(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")

	h1, err := ds.Commit(ctx, "c1", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("1")), FromBytes("b.txt", []byte("keep"))},
		Tags:     []string{"v1"},
		Metadata: map[string]any{"stage": "dev"},
	})
	if err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	h2, err := ds.Commit(ctx, "c2", CommitOptions{
		AddFiles:    []AddFileInput{FromBytes("a.txt", []byte("2")), FromBytes("c.txt", []byte("new"))},
		RemoveFiles: []string{},
		Tags:        []string{"v2"},
		Metadata:    map[string]any{"stage": "prod"},
	})
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	diff, err := ds.CompareCommits(h1, h2)
	if err != nil {
		t.Fatalf("CompareCommits: %v", err)
	}
	if _, ok := diff.Files.Changed["a.txt"]; !ok {
		t.Fatal("expected a.txt to be reported changed")
	}
	if _, ok := diff.Files.Added["c.txt"]; !ok {
		t.Fatal("expected c.txt to be reported added")
	}
	if _, ok := diff.Files.Removed["b.txt"]; ok {
		t.Fatal("b.txt was not removed, should not appear in Removed")
	}
	if diff.Metadata.Changed["stage"][1] != "prod" {
		t.Fatalf("expected stage metadata change to prod, got %v", diff.Metadata.Changed["stage"])
	}
	if len(diff.Tags.Added) != 1 || diff.Tags.Added[0] != "v2" {
		t.Fatalf("expected v2 tag added, got %v", diff.Tags.Added)
	}
	if len(diff.Tags.Removed) != 1 || diff.Tags.Removed[0] != "v1" {
		t.Fatalf("expected v1 tag removed, got %v", diff.Tags.Removed)
	}
}

// TestCleanupOrphanedFiles_DeletesOnlyUnreferencedBlobs validates spec.md §8 property 7: cleanup deletes
// exactly the blobs referenced by zero commits in the catalog. A blob
// written directly to the content store (as an aborted commit's upload
// would leave behind) but never committed is the only kind of orphan this
// dataset can produce, since every committed blob stays referenced by its
// (immutable, never-deleted) commit forever.
func TestCleanupOrphanedFiles_DeletesOnlyUnreferencedBlobs(t *testing.T) {
	ctx := context.Background()
	backend := localfs.NewMemory()
	ds, err := Open(ctx, backend, "d", zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := ds.Commit(ctx, "c1", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("keep"))}}); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	// Simulate an orphaned upload: a blob landed in the content store with
	// no commit ever referencing it.
	orphanHash, err := contentstore.New(backend).PutBytes(ctx, []byte("never committed"))
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	deleted, err := ds.CleanupOrphanedFiles(ctx, nil)
	if err != nil {
		t.Fatalf("CleanupOrphanedFiles: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected exactly 1 orphan deleted, got %d", deleted)
	}

	if has, _ := contentstore.New(backend).Has(ctx, orphanHash); has {
		t.Fatal("expected orphaned blob to be deleted")
	}
	if _, err := ds.ReadFile(ctx, "a.txt"); err != nil {
		t.Fatalf("expected a.txt's blob to survive cleanup: %v", err)
	}
}

// TestCommit_ArtifactMetadataMergesIntoModels validates spec.md §4.4.1 step
// 5: an artifact's extracted metadata lands at metadata.models[variableName],
// and a caller-supplied metadata.models[variableName] value shallowly
// overrides it rather than merging into it.
func TestCommit_ArtifactMetadataMergesIntoModels(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")
	ds.Registry().Register(fakeModel{}, &serializer.GobModelSerializer{
		ExtractMetadata: func(a any) map[string]any {
			return map[string]any{"accuracy": a.(fakeModel).Accuracy}
		},
	})

	hash, err := ds.Commit(ctx, "train", CommitOptions{
		AddFiles: []AddFileInput{FromArtifact("clf", fakeModel{Accuracy: 0.91})},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	commit, ok := ds.GetCommit(hash)
	if !ok {
		t.Fatal("expected committed hash to resolve")
	}
	models, ok := commit.Metadata["models"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata.models, got %v", commit.Metadata)
	}
	clf, ok := models["clf"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata.models.clf, got %v", models)
	}
	if clf["accuracy"] != 0.91 {
		t.Fatalf("expected extracted accuracy 0.91, got %v", clf["accuracy"])
	}

	// A caller-supplied metadata.models.clf overrides the extracted value
	// wholesale rather than being merged into it field-by-field.
	hash2, err := ds.Commit(ctx, "override", CommitOptions{
		Metadata: map[string]any{"models": map[string]any{"clf": map[string]any{"accuracy": 0.5}}},
	})
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	commit2, ok := ds.GetCommit(hash2)
	if !ok {
		t.Fatal("expected second committed hash to resolve")
	}
	models2 := commit2.Metadata["models"].(map[string]any)
	clf2 := models2["clf"].(map[string]any)
	if clf2["accuracy"] != 0.5 {
		t.Fatalf("expected caller override 0.5, got %v", clf2["accuracy"])
	}
}

type fakeModel struct {
	Accuracy float64
}

func asType[T error](err error, target *T) bool {
	v, ok := err.(T)
	if !ok {
		return false
	}
	*target = v
	return true
}
