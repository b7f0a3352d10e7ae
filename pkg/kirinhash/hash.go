// Package kirinhash defines Kirin's content hash type and the canonical
// commit-hash computation used across the content store, commit store and
// file index.
package kirinhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

// Hash is a 64-character lowercase hex SHA-256 digest.
type Hash string

// Zero is the null hash, used as the parent of a dataset's first commit.
const Zero Hash = ""

// ErrInvalidHash is returned when a string does not look like a 64-hex digest.
var ErrInvalidHash = errors.New("kirinhash: not a 64-character lowercase hex sha256 digest")

// Of returns the Hash of data.
func Of(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// Parse validates s as a Hash, rejecting anything that isn't 64 lowercase
// hex characters.
func Parse(s string) (Hash, error) {
	if len(s) != 64 {
		return "", ErrInvalidHash
	}
	for _, r := range s {
		isDigit := r >= '0' && r <= '9'
		isLower := r >= 'a' && r <= 'f'
		if !isDigit && !isLower {
			return "", ErrInvalidHash
		}
	}
	return Hash(s), nil
}

// String returns the hash as a hex string.
func (h Hash) String() string { return string(h) }

// Short returns the first 8 characters, for display only.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// IsZero reports whether h is the null hash.
func (h Hash) IsZero() bool { return h == Zero }

// ShardPath splits a hash into its two-character shard prefix and the
// remainder, matching the `data/{hh}/{rest}` and `index/files/{hh}/{rest}.json`
// layout rules in spec.md §4.2/§4.5.
func (h Hash) ShardPath() (prefix, rest string) {
	s := string(h)
	if len(s) < 2 {
		return s, ""
	}
	return s[:2], s[2:]
}

// CanonicalCommitInput is the set of fields that determine a commit's hash.
// FileHashes may be in any order (CommitHash sorts them); Timestamp must be
// the exact instant the engine will persist.
type CanonicalCommitInput struct {
	FileHashes []Hash
	Message    string
	ParentHash Hash
	Timestamp  time.Time
}

// CommitHash computes the canonical SHA-256 commit hash per spec.md §3:
// sorted file hashes joined by newline, then newline, message, newline,
// parent_hash (or "" for the root commit), newline, timestamp in ISO-8601.
func CommitHash(in CanonicalCommitInput) Hash {
	sorted := make([]string, len(in.FileHashes))
	for i, h := range in.FileHashes {
		sorted[i] = string(h)
	}
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(strings.Join(sorted, "\n"))
	b.WriteByte('\n')
	b.WriteString(in.Message)
	b.WriteByte('\n')
	b.WriteString(string(in.ParentHash))
	b.WriteByte('\n')
	b.WriteString(in.Timestamp.UTC().Format(time.RFC3339Nano))

	return Of([]byte(b.String()))
}
