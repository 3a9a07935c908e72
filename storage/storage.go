/*
	Package storage provides a unified interface to the durable byte stores
	that can back segmentation persistence.  Each engine must implement the
	KeyValueDB interface: read/write/delete by key plus listing by key prefix.
	Values are simply []byte at this level; serialization and compression
	occur above the storage level.
*/
package storage

import (
	"fmt"

	"github.com/blang/semver"

	"github.com/voxelmed/segvol/segvol"
)

// Store allows polyglot persistence of data.  Implementations could be a
// local filesystem tree, an embedded key-value database, or an object store.
type Store interface {
	fmt.Stringer

	// Close releases any store resources.
	Close()

	// Equal returns true if this store matches the given store configuration.
	Equal(segvol.StoreConfig) bool
}

// Engine is a storage engine that can create a new store given a configuration.
type Engine interface {
	fmt.Stringer
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore returns a store opened (and created if necessary) from config.
	// The second return value is true if the store was newly created.
	NewStore(segvol.StoreConfig) (Store, bool, error)
}

var availEngines map[string]Engine

// RegisterEngine registers an engine for DB creation.
func RegisterEngine(e Engine) {
	segvol.Debugf("Engine %q registered with storage package.\n", e)
	if availEngines == nil {
		availEngines = map[string]Engine{e.GetName(): e}
	} else {
		availEngines[e.GetName()] = e
	}
}

// GetEngine returns an Engine of the given name, or nil if not available.
func GetEngine(name string) Engine {
	if availEngines == nil {
		return nil
	}
	e, found := availEngines[name]
	if !found {
		return nil
	}
	return e
}

// EnginesAvailable returns a description of the registered storage engines.
func EnginesAvailable() string {
	var engines string
	sep := false
	for e := range availEngines {
		if sep {
			engines += "; "
		}
		engines += e
		sep = true
	}
	return engines
}

// NewStore checks if a given engine is registered and if so, opens a store
// using the given configuration.
func NewStore(config segvol.StoreConfig) (db Store, created bool, err error) {
	if config.Engine == "" {
		return nil, false, fmt.Errorf("storage configuration must have an engine set")
	}
	e := GetEngine(config.Engine)
	if e == nil {
		return nil, false, fmt.Errorf("engine %q not available (have %s)", config.Engine, EnginesAvailable())
	}
	return e.NewStore(config)
}

// NewKeyValueStore opens a store and requires it to support key-value access.
func NewKeyValueStore(config segvol.StoreConfig) (KeyValueDB, bool, error) {
	store, created, err := NewStore(config)
	if err != nil {
		return nil, false, err
	}
	kvdb, ok := store.(KeyValueDB)
	if !ok {
		store.Close()
		return nil, false, fmt.Errorf("store %q is not a key-value store", store)
	}
	return kvdb, created, nil
}
