package storage

import (
	"bytes"
	"context"
	"sort"
)

// Key is the slice of bytes used to store a value in a storage engine.
// Persistence code composes keys as slash-separated paths, e.g.
// "seg/<id>/meta.json", so keys sort lexicographically by path.
type Key []byte

// KeyValue stores a full key-value pair.
type KeyValue struct {
	K Key
	V []byte
}

// KeyValues is a slice of key-value pairs that can be sorted.
type KeyValues []KeyValue

func (kv KeyValues) Len() int      { return len(kv) }
func (kv KeyValues) Swap(i, j int) { kv[i], kv[j] = kv[j], kv[i] }
func (kv KeyValues) Less(i, j int) bool {
	return bytes.Compare(kv[i].K, kv[j].K) <= 0
}

// KeyValueGetter provides reads of individual key-value pairs.
type KeyValueGetter interface {
	// Get returns a value given a key.  A missing key returns an error
	// wrapping segvol.ErrNotFound.
	Get(ctx context.Context, k Key) ([]byte, error)

	// Exists returns true if a key has been set.
	Exists(ctx context.Context, k Key) (bool, error)
}

// KeyValueSetter provides writes of individual key-value pairs.
type KeyValueSetter interface {
	// Put writes a value with given key.
	Put(ctx context.Context, k Key, v []byte) error

	// Delete deletes a key-value pair so that subsequent Get on the key
	// returns a not-found error.  Deleting a missing key is not an error.
	Delete(ctx context.Context, k Key) error
}

// KeyValueLister provides key listing by prefix, required for the per-slice
// persistence format and for cleanup of staged partial exports.
type KeyValueLister interface {
	// KeysWithPrefix returns all keys beginning with prefix in
	// lexicographic order.
	KeysWithPrefix(ctx context.Context, prefix Key) ([]Key, error)
}

// KeyValueDB provides an interface to the simplest storage API required by
// segmentation persistence: a key-value store with prefix listing.
type KeyValueDB interface {
	Store
	KeyValueGetter
	KeyValueSetter
	KeyValueLister
}

// SortKeys orders keys lexicographically in place.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
}
