package filestore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
)

func newTestStore(t *testing.T) storage.KeyValueDB {
	t.Helper()
	db, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("can't open file store: %v\n", err)
	}
	return db
}

func TestFileStoreBasics(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	k := storage.Key("seg/case-17/meta.json")
	v := []byte(`{"id": "case-17"}`)

	if _, err := db.Get(ctx, k); !errors.Is(err, segvol.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v\n", err)
	}
	exists, err := db.Exists(ctx, k)
	if err != nil || exists {
		t.Fatalf("missing key should not exist: %v %v\n", exists, err)
	}

	if err := db.Put(ctx, k, v); err != nil {
		t.Fatalf("Put: %v\n", err)
	}
	got, err := db.Get(ctx, k)
	if err != nil || !bytes.Equal(got, v) {
		t.Fatalf("Get after Put: %q %v\n", got, err)
	}
	exists, err = db.Exists(ctx, k)
	if err != nil || !exists {
		t.Fatalf("stored key should exist: %v %v\n", exists, err)
	}

	// Overwrite replaces the value atomically.
	v2 := []byte(`{"id": "case-17", "status": "REVIEWED"}`)
	if err := db.Put(ctx, k, v2); err != nil {
		t.Fatalf("overwrite Put: %v\n", err)
	}
	got, err = db.Get(ctx, k)
	if err != nil || !bytes.Equal(got, v2) {
		t.Fatalf("Get after overwrite: %q %v\n", got, err)
	}

	if err := db.Delete(ctx, k); err != nil {
		t.Fatalf("Delete: %v\n", err)
	}
	if _, err := db.Get(ctx, k); !errors.Is(err, segvol.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v\n", err)
	}
	// Deleting an absent key is a no-op.
	if err := db.Delete(ctx, k); err != nil {
		t.Fatalf("Delete of absent key: %v\n", err)
	}
}

func TestFileStoreKeysWithPrefix(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	keys := []string{
		"seg/a/slices/slice_0002.simg",
		"seg/a/slices/slice_0000.simg",
		"seg/a/meta.json",
		"seg/b/meta.json",
	}
	for _, k := range keys {
		if err := db.Put(ctx, storage.Key(k), []byte(k)); err != nil {
			t.Fatalf("Put(%q): %v\n", k, err)
		}
	}

	got, err := db.KeysWithPrefix(ctx, storage.Key("seg/a/slices/"))
	if err != nil {
		t.Fatalf("KeysWithPrefix: %v\n", err)
	}
	want := []string{"seg/a/slices/slice_0000.simg", "seg/a/slices/slice_0002.simg"}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v\n", len(want), got)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("key %d: expected %q, got %q\n", i, want[i], got[i])
		}
	}

	all, err := db.KeysWithPrefix(ctx, storage.Key("seg/"))
	if err != nil {
		t.Fatalf("KeysWithPrefix: %v\n", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 keys under seg/, got %v\n", all)
	}
}

func TestFileStoreRejectsMalformedKeys(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"", "../escape", "seg//double", "seg/./dot"} {
		if err := db.Put(ctx, storage.Key(k), []byte("x")); err == nil {
			t.Fatalf("expected rejection of key %q\n", k)
		}
	}
}
