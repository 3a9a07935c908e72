/*
	Package gcs implements the KeyValueDB interface on a Google Cloud
	Storage bucket.  Object listing is eventually consistent after bucket
	changes, but an object read after a successful write is strongly
	consistent, which is what segmentation persistence relies on.
*/
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"github.com/blang/semver"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		segvol.Errorf("Unable to make semver in gcs: %v\n", err)
	}
	e := Engine{"gcs", "Google Cloud Storage bucket", ver}
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

// NewStore returns a bucket-backed store.  The passed config must contain a
// "bucket" setting and may contain "prefix" and "credentials" settings.
func (e Engine) NewStore(config segvol.StoreConfig) (storage.Store, bool, error) {
	return e.newStore(config)
}

func parseConfig(config segvol.StoreConfig) (bucket, prefix, credentials string, err error) {
	c := config.GetAll()

	var found bool
	bucket, found = c.GetString("bucket")
	if !found {
		err = fmt.Errorf("%q must be specified for gcs configuration", "bucket")
		return
	}
	prefix, _ = c.GetString("prefix")
	credentials, _ = c.GetString("credentials")
	return
}

type bucketStore struct {
	bucket string
	prefix string
	config segvol.StoreConfig
	client *gstorage.Client
	bkt    *gstorage.BucketHandle
}

func (e Engine) newStore(config segvol.StoreConfig) (*bucketStore, bool, error) {
	bucket, prefix, credentials, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	ctx := context.Background()
	var opts []option.ClientOption
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("can't create GCS client for bucket %q: %v", bucket, err)
	}

	store := &bucketStore{
		bucket: bucket,
		prefix: prefix,
		config: config,
		client: client,
		bkt:    client.Bucket(bucket),
	}
	if _, err := store.bkt.Attrs(ctx); err != nil {
		client.Close()
		return nil, false, fmt.Errorf("can't access GCS bucket %q: %v", bucket, err)
	}
	return store, false, nil
}

// objectName maps a key to an object name, applying any configured prefix.
func (s *bucketStore) objectName(k storage.Key) string {
	if s.prefix == "" {
		return string(k)
	}
	return s.prefix + "/" + string(k)
}

// ---- Store interface ------

func (s *bucketStore) String() string {
	return fmt.Sprintf("gcs bucket %q", s.bucket)
}

func (s *bucketStore) Close() {
	if s != nil && s.client != nil {
		if err := s.client.Close(); err != nil {
			segvol.Errorf("Error closing GCS client for bucket %q: %v\n", s.bucket, err)
		}
		s.client = nil
	}
}

func (s *bucketStore) Equal(config segvol.StoreConfig) bool {
	bucket, prefix, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return bucket == s.bucket && prefix == s.prefix
}

// ---- KeyValueGetter interface ------

// Get returns a value given a key.
func (s *bucketStore) Get(ctx context.Context, k storage.Key) ([]byte, error) {
	r, err := s.bkt.Object(s.objectName(k)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("key %q: %w", string(k), segvol.ErrNotFound)
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Exists returns true if a key has been set.
func (s *bucketStore) Exists(ctx context.Context, k storage.Key) (bool, error) {
	_, err := s.bkt.Object(s.objectName(k)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ---- KeyValueSetter interface ------

// Put writes a value with given key.
func (s *bucketStore) Put(ctx context.Context, k storage.Key, v []byte) error {
	w := s.bkt.Object(s.objectName(k)).NewWriter(ctx)
	if _, err := w.Write(v); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Delete removes a value with given key.
func (s *bucketStore) Delete(ctx context.Context, k storage.Key) error {
	err := s.bkt.Object(s.objectName(k)).Delete(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ---- KeyValueLister interface ------

// KeysWithPrefix lists object names beginning with prefix.  GCS object
// listing is already in lexicographic order.
func (s *bucketStore) KeysWithPrefix(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	query := &gstorage.Query{Prefix: s.objectName(prefix)}
	var keys []storage.Key
	it := s.bkt.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if s.prefix != "" {
			name = name[len(s.prefix)+1:]
		}
		keys = append(keys, storage.Key(name))
	}
	return keys, nil
}
