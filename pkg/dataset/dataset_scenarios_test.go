package dataset

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"kirin/pkg/contentstore"
	"kirin/pkg/objectstore/localfs"
)

// TestS1_FirstCommit validates spec.md §8 scenario S1.
func TestS1_FirstCommit(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")

	hash, err := ds.Commit(ctx, "init", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("hello"))},
	})
	require.NoError(t, err)

	history := ds.History(0)
	require.Len(t, history, 1)
	commit := history[0]
	require.True(t, commit.ParentHash.IsZero(), "first commit must have a nil parent_hash")
	require.Equal(t, hash, commit.Hash)

	f, ok := commit.Files["a.txt"]
	require.True(t, ok, "expected a.txt in commit files")
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", string(f.Hash))
	require.EqualValues(t, 5, f.Size)
}

// TestS2_Dedup validates spec.md §8 scenario S2: identical content added
// under a new filename produces no new blob.
func TestS2_Dedup(t *testing.T) {
	ctx := context.Background()
	backend := localfs.NewMemory()
	ds, err := Open(ctx, backend, "d", zerolog.Nop())
	require.NoError(t, err)

	_, err = ds.Commit(ctx, "init", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("hello"))}})
	require.NoError(t, err)

	_, err = ds.Commit(ctx, "dup", CommitOptions{AddFiles: []AddFileInput{FromBytes("b.txt", []byte("hello"))}})
	require.NoError(t, err)

	require.Len(t, ds.History(0), 2)

	a, ok := ds.GetFile("a.txt")
	require.True(t, ok)
	b, ok := ds.GetFile("b.txt")
	require.True(t, ok)
	require.Equal(t, a.Hash, b.Hash, "a.txt and b.txt must share a blob")

	content := contentstore.New(backend)
	hashes, err := content.ListHashes(ctx)
	require.NoError(t, err)
	require.Len(t, hashes, 1, "exactly one blob must exist for the shared content")
	require.Equal(t, a.Hash, hashes[0])
}

// TestS3_Remove validates spec.md §8 scenario S3: removing a filename drops
// it from the new commit's file map but its blob survives, still referenced
// by an older commit.
func TestS3_Remove(t *testing.T) {
	ctx := context.Background()
	backend := localfs.NewMemory()
	ds, err := Open(ctx, backend, "d", zerolog.Nop())
	require.NoError(t, err)

	_, err = ds.Commit(ctx, "init", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("hello"))}})
	require.NoError(t, err)
	_, err = ds.Commit(ctx, "dup", CommitOptions{AddFiles: []AddFileInput{FromBytes("b.txt", []byte("hello"))}})
	require.NoError(t, err)

	aBefore, _ := ds.GetFile("a.txt")

	_, err = ds.Commit(ctx, "rm", CommitOptions{RemoveFiles: []string{"a.txt"}})
	require.NoError(t, err)

	_, ok := ds.GetFile("a.txt")
	require.False(t, ok, "a.txt must be gone from HEAD")
	_, ok = ds.GetFile("b.txt")
	require.True(t, ok, "b.txt must remain")

	content := contentstore.New(backend)
	has, err := content.Has(ctx, aBefore.Hash)
	require.NoError(t, err)
	require.True(t, has, "blob must not be deleted merely because its filename was removed")
}

// TestS5_Find validates spec.md §8 scenario S5.
func TestS5_Find(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")

	_, err := ds.Commit(ctx, "c1", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("1"))},
		Tags:     []string{"prod"},
		Metadata: map[string]any{"accuracy": 0.80},
	})
	require.NoError(t, err)
	_, err = ds.Commit(ctx, "c2", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("2"))},
		Tags:     []string{"dev"},
		Metadata: map[string]any{"accuracy": 0.95},
	})
	require.NoError(t, err)
	h3, err := ds.Commit(ctx, "c3", CommitOptions{
		AddFiles: []AddFileInput{FromBytes("a.txt", []byte("3"))},
		Tags:     []string{"prod", "v2"},
		Metadata: map[string]any{"accuracy": 0.92},
	})
	require.NoError(t, err)

	results := ds.FindCommits(FindCommitsOptions{
		Tags: []string{"prod"},
		MetadataFilter: func(m map[string]any) bool {
			acc, _ := m["accuracy"].(float64)
			return acc > 0.9
		},
	})
	require.Len(t, results, 1)
	require.Equal(t, h3, results[0].Hash)
}

// TestS6_CheckoutIsPointerOnly validates spec.md §8 scenario S6: checkout
// never rewrites commits.json, and the next commit always extends the
// actual tail rather than the checked-out HEAD.
func TestS6_CheckoutIsPointerOnly(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset(t, "d")

	h1, err := ds.Commit(ctx, "c1", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("1"))}})
	require.NoError(t, err)
	_, err = ds.Commit(ctx, "c2", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("2"))}})
	require.NoError(t, err)
	h3, err := ds.Commit(ctx, "c3", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("3"))}})
	require.NoError(t, err)

	historyBefore := ds.History(0)

	require.NoError(t, ds.Checkout(&h1))
	f, ok := ds.GetFile("a.txt")
	require.True(t, ok)
	require.Equal(t, historyBefore[2].Files["a.txt"].Hash, f.Hash, "files() must reflect the checked-out commit")

	_, err = ds.Commit(ctx, "c4", CommitOptions{AddFiles: []AddFileInput{FromBytes("a.txt", []byte("4"))}})
	require.NoError(t, err)

	historyAfter := ds.History(0)
	require.Len(t, historyAfter, 4, "commits.json must gain exactly one entry")
	require.Equal(t, h3, historyAfter[0].ParentHash, "new commit must extend the actual tail (c3), not the checked-out HEAD (c1)")
	require.NotEqual(t, h1, historyAfter[0].ParentHash)
}
