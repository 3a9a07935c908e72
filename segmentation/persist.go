package segmentation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
	"github.com/voxelmed/segvol/storage/rendercache"
)

// sliceWriteParallelism bounds concurrent slice-series writes per save.
const sliceWriteParallelism = 4

// Adapter reads and writes segmentations to durable storage.  One adapter
// serves both interchange formats; the format is taken from the segmentation
// record, never from call-site branching.
type Adapter interface {
	// LoadMeta reads only the sidecar metadata record.
	LoadMeta(ctx context.Context, id segvol.SegmentationID) (*Segmentation, error)

	// SaveMeta writes only the sidecar metadata record, e.g. after a
	// status change that touches no voxels.
	SaveMeta(ctx context.Context, seg *Segmentation) error

	// Load reads the metadata and the full label volume.  The sidecar
	// shape is authoritative; loaded arrays in the legacy axis order are
	// migrated, any other mismatch fails validation.
	Load(ctx context.Context, id segvol.SegmentationID) (*Segmentation, *VolumeStore, error)

	// Save flushes the volume.  Dirty slices are guaranteed written; the
	// dirty set is cleared and progress statistics are recomputed and
	// stored only after every write succeeds.
	Save(ctx context.Context, seg *Segmentation, v *VolumeStore) error

	// Delete removes every persisted key for a segmentation.
	Delete(ctx context.Context, id segvol.SegmentationID) error
}

type storeAdapter struct {
	db    storage.KeyValueDB
	cache *rendercache.Cache
}

// NewAdapter returns an Adapter over any key-value store.  cache may be nil.
func NewAdapter(db storage.KeyValueDB, cache *rendercache.Cache) Adapter {
	return &storeAdapter{db: db, cache: cache}
}

// ---- metadata ----

func (a *storeAdapter) LoadMeta(ctx context.Context, id segvol.SegmentationID) (*Segmentation, error) {
	data, found := a.cache.Get(rendercache.MetaKey(id))
	if !found {
		var err error
		data, err = a.db.Get(ctx, metaKey(id))
		if err != nil {
			if errors.Is(err, segvol.ErrNotFound) {
				return nil, fmt.Errorf("segmentation %q: %w", id, segvol.ErrNotFound)
			}
			return nil, segvol.Storagef(string(metaKey(id)), err)
		}
		a.cache.Set(rendercache.MetaKey(id), data)
	}
	seg, err := UnmarshalSidecar(data)
	if err != nil {
		return nil, err
	}
	if seg.ID != id {
		return nil, segvol.Validationf("sidecar for %q declares id %q", id, seg.ID)
	}
	return seg, nil
}

func (a *storeAdapter) SaveMeta(ctx context.Context, seg *Segmentation) error {
	data, err := seg.MarshalSidecar()
	if err != nil {
		return err
	}
	if err := a.db.Put(ctx, metaKey(seg.ID), data); err != nil {
		return segvol.Storagef(string(metaKey(seg.ID)), err)
	}
	a.cache.Set(rendercache.MetaKey(seg.ID), data)
	return nil
}

// ---- load ----

func (a *storeAdapter) Load(ctx context.Context, id segvol.SegmentationID) (*Segmentation, *VolumeStore, error) {
	timedLog := segvol.NewTimeLog()
	seg, err := a.LoadMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var v *VolumeStore
	switch seg.SourceFormat {
	case VolumeFile:
		v, err = a.loadVolumeFile(ctx, seg)
	case SliceSeries:
		v, err = a.loadSliceSeries(ctx, seg)
	default:
		err = segvol.Validationf("segmentation %q has unknown source format %q", id, seg.SourceFormat)
	}
	if err != nil {
		return nil, nil, err
	}

	v.mu.Lock()
	err = v.checkLabelsLocked(seg.Labels)
	v.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	timedLog.Infof("Loaded segmentation %q (%s, %s)", id, seg.Shape, seg.SourceFormat)
	return seg, v, nil
}

func (a *storeAdapter) loadVolumeFile(ctx context.Context, seg *Segmentation) (*VolumeStore, error) {
	data, err := a.db.Get(ctx, volumeKey(seg.ID))
	if err != nil {
		if errors.Is(err, segvol.ErrNotFound) {
			return a.loadLegacyRaw(ctx, seg)
		}
		return nil, segvol.Storagef(string(volumeKey(seg.ID)), err)
	}
	stored, voxels, err := decodeVolumeFile(data)
	if err != nil {
		return nil, err
	}
	internal, err := migrateLoadedVolume(seg.Shape, stored, voxels)
	if err != nil {
		return nil, err
	}
	return newVolumeStoreFromVoxels(seg.ID, seg.Shape, internal)
}

// loadLegacyRaw is the read-only compatibility path: a single uncompressed
// raw array, already in internal axis order.
func (a *storeAdapter) loadLegacyRaw(ctx context.Context, seg *Segmentation) (*VolumeStore, error) {
	data, err := a.db.Get(ctx, legacyVolumeKey(seg.ID))
	if err != nil {
		if errors.Is(err, segvol.ErrNotFound) {
			return nil, fmt.Errorf("segmentation %q has no persisted volume: %w", seg.ID, segvol.ErrNotFound)
		}
		return nil, segvol.Storagef(string(legacyVolumeKey(seg.ID)), err)
	}
	segvol.Infof("Reading legacy raw volume for segmentation %q.\n", seg.ID)
	return newVolumeStoreFromVoxels(seg.ID, seg.Shape, data)
}

func (a *storeAdapter) loadSliceSeries(ctx context.Context, seg *Segmentation) (*VolumeStore, error) {
	keys, err := a.db.KeysWithPrefix(ctx, slicePrefix(seg.ID))
	if err != nil {
		return nil, segvol.Storagef(string(slicePrefix(seg.ID)), err)
	}

	// Slices never painted are absent and stay background.  A sidecar with
	// no slice files at all is a valid unpainted segmentation.
	v := NewVolumeStore(seg.ID, seg.Shape)
	for _, k := range keys {
		nameIndex, err := sliceIndexFromKey(k)
		if err != nil {
			return nil, err
		}
		data, err := a.db.Get(ctx, k)
		if err != nil {
			return nil, segvol.Storagef(string(k), err)
		}
		hdr, pixels, err := decodeSlice(data)
		if err != nil {
			return nil, err
		}
		if hdr.Index != nameIndex {
			return nil, segvol.Validationf("slice file %q declares index %d", string(k), hdr.Index)
		}
		if hdr.Index < 0 || hdr.Index >= seg.Shape.Depth() {
			return nil, segvol.Validationf("slice index %d outside [0, %d)", hdr.Index, seg.Shape.Depth())
		}
		if hdr.Rows != seg.Shape.Height() || hdr.Cols != seg.Shape.Width() {
			return nil, segvol.Validationf("slice %d is %dx%d, segmentation %q declares %dx%d",
				hdr.Index, hdr.Rows, hdr.Cols, seg.ID, seg.Shape.Height(), seg.Shape.Width())
		}
		copy(v.sliceAtLocked(hdr.Index), pixels)
	}
	return v, nil
}

// ---- save ----

// Save holds the volume's exclusive lock for the full flush so no concurrent
// paint can mark new slices dirty mid-flush.  The sidecar (carrying the new
// modification time and progress) is written last: an interrupted save leaves
// the prior persisted version current.
func (a *storeAdapter) Save(ctx context.Context, seg *Segmentation, v *VolumeStore) error {
	if seg.ID != v.ID() {
		return segvol.Validationf("volume %q does not belong to segmentation %q", v.ID(), seg.ID)
	}
	timedLog := segvol.NewTimeLog()

	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	switch seg.SourceFormat {
	case VolumeFile:
		err = a.saveVolumeFile(ctx, seg, v)
	case SliceSeries:
		err = a.saveSliceSeries(ctx, seg, v)
	default:
		err = segvol.Validationf("segmentation %q has unknown source format %q", seg.ID, seg.SourceFormat)
	}
	if err != nil {
		// Dirty set is left intact so the flush can be retried.
		return err
	}

	stats := computeStatisticsLocked(v)
	seg.Statistics = stats
	seg.Progress = stats.ProgressPercentage(seg.Shape.Depth())
	if err := a.SaveMeta(ctx, seg); err != nil {
		return err
	}

	v.clearDirtyLocked()
	timedLog.Infof("Saved segmentation %q (%d%% annotated)", seg.ID, seg.Progress)
	return nil
}

func (a *storeAdapter) saveVolumeFile(ctx context.Context, seg *Segmentation, v *VolumeStore) error {
	// A full-volume rewrite trivially covers the dirty slices and cannot
	// regress already-persisted ones.
	data, err := encodeVolumeFile(seg.Shape, v.voxels)
	if err != nil {
		return err
	}
	if err := a.db.Put(ctx, volumeKey(seg.ID), data); err != nil {
		return segvol.Storagef(string(volumeKey(seg.ID)), err)
	}
	return nil
}

func (a *storeAdapter) saveSliceSeries(ctx context.Context, seg *Segmentation, v *VolumeStore) error {
	dirty := v.dirtySlicesLocked()
	if len(dirty) == 0 {
		return nil
	}
	seriesUID := newSeriesUID()
	description := fmt.Sprintf("Segmentation %s of %s", seg.ID, seg.SourceImageRef)

	// Caller holds the exclusive lock, so goroutines may read the live
	// array.  Each slice file write is atomic in every storage engine, so
	// a failed save leaves only well-formed files from the prior version.
	// The group context cancels remaining writes on first failure and
	// carries the eviction flush timeout into the engines.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sliceWriteParallelism)
	for _, z := range dirty {
		z := z
		g.Go(func() error {
			hdr := sliceHeader{
				UID:               newInstanceUID(),
				SeriesUID:         seriesUID,
				Index:             z,
				Position:          float64(z) * seg.VoxelSpacing[0],
				SeriesDescription: description,
				Rows:              seg.Shape.Height(),
				Cols:              seg.Shape.Width(),
			}
			data, err := encodeSlice(hdr, v.sliceAtLocked(z))
			if err != nil {
				return err
			}
			if err := a.db.Put(gctx, sliceKey(seg.ID, z), data); err != nil {
				return segvol.Storagef(string(sliceKey(seg.ID, z)), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ---- delete ----

func (a *storeAdapter) Delete(ctx context.Context, id segvol.SegmentationID) error {
	keys, err := a.db.KeysWithPrefix(ctx, segPrefix(id))
	if err != nil {
		return segvol.Storagef(string(segPrefix(id)), err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("segmentation %q: %w", id, segvol.ErrNotFound)
	}
	for _, k := range keys {
		if err := a.db.Delete(ctx, k); err != nil {
			return segvol.Storagef(string(k), err)
		}
	}
	a.cache.Del(rendercache.MetaKey(id))
	return nil
}
