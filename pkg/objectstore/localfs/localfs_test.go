package localfs

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"
)

func TestMemory_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.Write(ctx, "data/ab/cdef", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "data/ab/cdef")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected content: %s", got)
	}
}

func TestMemory_OpenWriteThenCloseMakesKeyVisible(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	w, err := s.OpenWrite(ctx, "k")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	exists, _ := s.Exists(ctx, "k")
	if exists {
		t.Fatal("key should not be visible before Close")
	}

	if _, err := io.Copy(w, bytes.NewReader([]byte("staged"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	exists, err = s.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("expected key visible after Close")
	}
	data, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "staged" {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestOS_AtomicWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewOS(dir)
	if err != nil {
		t.Fatalf("NewOS: %v", err)
	}

	if err := s.Write(ctx, "nested/path/file.bin", []byte("hello atomic")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "nested/path/file.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello atomic" {
		t.Fatalf("unexpected content: %s", got)
	}

	// No leftover temp files from the write-then-rename sequence.
	entries, err := s.List(ctx, "nested/path")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0] != "nested/path/file.bin" {
		t.Fatalf("expected only the final file, got %v", entries)
	}
}

func TestDelete_MissingKeyIsNotAnError(t *testing.T) {
	s := NewMemory()
	if err := s.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Delete of a missing key should not error, got %v", err)
	}
}

func TestList_ReturnsEveryKeyUnderPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	keys := []string{"data/ab/one", "data/ab/two", "data/cd/three"}
	for _, k := range keys {
		if err := s.Write(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Write(%s): %v", k, err)
		}
	}

	got, err := s.List(ctx, "data/ab/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(got)
	want := []string{"data/ab/one", "data/ab/two"}
	if len(got) != len(want) {
		t.Fatalf("unexpected list result: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected list result: %v", got)
		}
	}
}
