/*
	Package filestore implements a local-disk store that fulfills the
	KeyValueDB interface.  Keys are interpreted as slash-separated relative
	paths beneath a root directory, so a stored segmentation is directly
	inspectable on disk.  Writes go to a temp file in the target directory
	followed by an atomic rename, so a crashed write never leaves a
	half-written value under the final key.
*/
package filestore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		segvol.Errorf("Unable to make semver in filestore: %v\n", err)
	}
	e := Engine{"filestore", "File-based key value store", ver}
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

// NewStore returns a file-based store.  The passed config must contain a
// "path" setting.
func (e Engine) NewStore(config segvol.StoreConfig) (storage.Store, bool, error) {
	return e.newStore(config)
}

func parseConfig(config segvol.StoreConfig) (path string, testing bool, err error) {
	c := config.GetAll()

	var found bool
	path, found = c.GetString("path")
	if !found {
		err = fmt.Errorf("%q must be specified for filestore configuration", "path")
		return
	}
	testing, _ = c.GetBool("testing")
	if testing {
		path = filepath.Join(os.TempDir(), path)
	}
	return
}

type fileStore struct {
	path   string
	config segvol.StoreConfig
}

// newStore returns a file-based key-value store, insuring a directory at the path.
func (e Engine) newStore(config segvol.StoreConfig) (*fileStore, bool, error) {
	path, _, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		segvol.Infof("File store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, false, err
		}
		created = true
	}

	store := &fileStore{
		path:   path,
		config: config,
	}
	return store, created, nil
}

// NewStore returns a file-based store rooted at the given directory, creating
// it if necessary.  Intended for tests and tools that don't use TOML config.
func NewStore(path string) (storage.KeyValueDB, error) {
	config := segvol.StoreConfig{
		Config: segvol.Config{"path": path},
		Engine: "filestore",
	}
	store, _, err := Engine{}.newStore(config)
	return store, err
}

// ---- Store interface ------

func (db *fileStore) String() string {
	return fmt.Sprintf("file store @ %s", db.path)
}

func (db *fileStore) Close() {}

func (db *fileStore) Equal(config segvol.StoreConfig) bool {
	path, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return path == db.path
}

// filepathFromKey maps a slash-separated key to a path under the store root.
// Path traversal components are rejected so keys cannot escape the root.
func (db *fileStore) filepathFromKey(k storage.Key) (string, error) {
	key := string(k)
	if key == "" {
		return "", fmt.Errorf("empty key given to file store @ %s", db.path)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("malformed key %q for file store", key)
		}
	}
	return filepath.Join(db.path, filepath.FromSlash(key)), nil
}

// ---- KeyValueGetter interface ------

// Get returns a value given a key.
func (db *fileStore) Get(ctx context.Context, k storage.Key) ([]byte, error) {
	fpath, err := db.filepathFromKey(k)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fpath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("key %q: %w", string(k), segvol.ErrNotFound)
	}
	return data, err
}

// Exists returns true if a key has been set.
func (db *fileStore) Exists(ctx context.Context, k storage.Key) (bool, error) {
	fpath, err := db.filepathFromKey(k)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fpath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ---- KeyValueSetter interface ------

// Put writes a value with given key using a temp file + rename.  A cancelled
// or expired context aborts the write before any file is touched.
func (db *fileStore) Put(ctx context.Context, k storage.Key, v []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fpath, err := db.filepathFromKey(k)
	if err != nil {
		return err
	}
	dirpath := filepath.Dir(fpath)
	if err := os.MkdirAll(dirpath, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dirpath, ".put-*")
	if err != nil {
		return err
	}
	tmpname := f.Name()
	if _, err := f.Write(v); err != nil {
		f.Close()
		os.Remove(tmpname)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpname)
		return err
	}
	return os.Rename(tmpname, fpath)
}

// Delete removes a value with given key.
func (db *fileStore) Delete(ctx context.Context, k storage.Key) error {
	fpath, err := db.filepathFromKey(k)
	if err != nil {
		return err
	}
	if err := os.Remove(fpath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ---- KeyValueLister interface ------

// KeysWithPrefix walks the store directory returning keys that begin with
// prefix, in lexicographic order.
func (db *fileStore) KeysWithPrefix(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	var keys []storage.Key
	err := filepath.WalkDir(db.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(db.path, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(key), ".put-") {
			return nil // in-flight temp file
		}
		if strings.HasPrefix(key, string(prefix)) {
			keys = append(keys, storage.Key(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortKeys(keys)
	return keys, nil
}
