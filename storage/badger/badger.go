/*
	Package badger implements the KeyValueDB interface on BadgerDB, an
	embedded LSM key-value store.  It is the preferred engine when the
	platform stores many segmentations on one node, since it avoids a file
	per slice and batches well under write load.
*/
package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
)

const (
	// DefaultSyncWrites is true if all writes are synced to disk, thereby
	// making the db resilient at cost of speed.
	DefaultSyncWrites = false
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		segvol.Errorf("Unable to make semver in badger: %v\n", err)
	}
	e := Engine{"badger", "BadgerDB", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a BadgerDB-backed store.  The passed config must contain a
// "path" string.
func (e Engine) NewStore(config segvol.StoreConfig) (storage.Store, bool, error) {
	return e.newDB(config)
}

func parseConfig(config segvol.StoreConfig) (path string, syncWrites, testing bool, err error) {
	c := config.GetAll()

	var found bool
	path, found = c.GetString("path")
	if !found {
		err = fmt.Errorf("%q must be specified for BadgerDB configuration", "path")
		return
	}
	syncWrites = DefaultSyncWrites
	if v, found := c.GetBool("sync_writes"); found {
		syncWrites = v
	}
	testing, _ = c.GetBool("testing")
	if testing {
		path = filepath.Join(os.TempDir(), path)
	}
	return
}

type badgerDB struct {
	directory string
	config    segvol.StoreConfig
	bdp       *badger.DB
}

func (e Engine) newDB(config segvol.StoreConfig) (*badgerDB, bool, error) {
	path, syncWrites, _, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		segvol.Infof("Database not already at path (%s). Creating directory...\n", path)
		created = true
		if err := os.MkdirAll(path, 0744); err != nil {
			return nil, false, fmt.Errorf("can't make directory at %s: %v", path, err)
		}
	}

	opts := badger.DefaultOptions(path)
	opts = opts.WithSyncWrites(syncWrites)
	opts = opts.WithLogger(badgerLogger{})

	db := &badgerDB{
		directory: path,
		config:    config,
	}
	db.bdp, err = badger.Open(opts)
	if err != nil {
		return nil, false, err
	}
	return db, created, nil
}

// badgerLogger routes BadgerDB's internal logging through the engine logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { segvol.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { segvol.Warningf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { segvol.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { segvol.Debugf(format, args...) }

// ---- Store interface ------

func (db *badgerDB) String() string {
	return fmt.Sprintf("badger @ %s", db.directory)
}

func (db *badgerDB) Close() {
	if db != nil && db.bdp != nil {
		if err := db.bdp.Close(); err != nil {
			segvol.Errorf("Error closing badger @ %s: %v\n", db.directory, err)
		}
		db.bdp = nil
	}
}

func (db *badgerDB) Equal(config segvol.StoreConfig) bool {
	path, _, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return path == db.directory
}

// ---- KeyValueGetter interface ------

// Get returns a value given a key.
func (db *badgerDB) Get(ctx context.Context, k storage.Key) ([]byte, error) {
	if db == nil || db.bdp == nil {
		return nil, fmt.Errorf("bad badger DB specified for Get")
	}
	var value []byte
	err := db.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("key %q: %w", string(k), segvol.ErrNotFound)
	}
	return value, err
}

// Exists returns true if a key has been set.
func (db *badgerDB) Exists(ctx context.Context, k storage.Key) (bool, error) {
	if db == nil || db.bdp == nil {
		return false, fmt.Errorf("bad badger DB specified for Exists")
	}
	found := false
	err := db.bdp.View(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return found, err
}

// ---- KeyValueSetter interface ------

// Put writes a value with given key.  A cancelled or expired context aborts
// the write before the transaction starts.
func (db *badgerDB) Put(ctx context.Context, k storage.Key, v []byte) error {
	if db == nil || db.bdp == nil {
		return fmt.Errorf("bad badger DB specified for Put")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

// Delete removes a value with given key.
func (db *badgerDB) Delete(ctx context.Context, k storage.Key) error {
	if db == nil || db.bdp == nil {
		return fmt.Errorf("bad badger DB specified for Delete")
	}
	err := db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

// ---- KeyValueLister interface ------

// KeysWithPrefix iterates keys beginning with prefix in lexicographic order.
func (db *badgerDB) KeysWithPrefix(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	if db == nil || db.bdp == nil {
		return nil, fmt.Errorf("bad badger DB specified for KeysWithPrefix")
	}
	var keys []storage.Key
	err := db.bdp.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}
