package segmentation

import (
	"sort"
	"sync"

	"github.com/voxelmed/segvol/segvol"
)

// VolumeStore holds the in-memory 3D label array for one segmentation plus
// per-slice dirty tracking.  Voxels are stored as a flat slice in internal
// (depth, height, width) C order: index = z*height*width + y*width + x.
//
// The embedded lock is the per-segmentation exclusive lock: paint, save/load,
// and eviction flush all hold it for writing, so a stroke can't tear a
// concurrent save and a render can't observe a half-applied stroke.  Renders
// hold it for reading only long enough to copy out the needed 2D slice.
type VolumeStore struct {
	id    segvol.SegmentationID
	shape segvol.Shape

	mu     sync.RWMutex
	voxels []uint8
	dirty  map[int32]struct{} // depth indices modified since last flush
}

// NewVolumeStore returns an all-background volume of the given shape.
func NewVolumeStore(id segvol.SegmentationID, shape segvol.Shape) *VolumeStore {
	return &VolumeStore{
		id:     id,
		shape:  shape,
		voxels: make([]uint8, shape.NumVoxels()),
		dirty:  make(map[int32]struct{}),
	}
}

// newVolumeStoreFromVoxels wraps loaded voxel data, which must already be in
// internal axis order and match the authoritative shape.
func newVolumeStoreFromVoxels(id segvol.SegmentationID, shape segvol.Shape, voxels []uint8) (*VolumeStore, error) {
	if int64(len(voxels)) != shape.NumVoxels() {
		return nil, segvol.Validationf("voxel data for %q has %d elements, shape %s requires %d",
			id, len(voxels), shape, shape.NumVoxels())
	}
	return &VolumeStore{
		id:     id,
		shape:  shape,
		voxels: voxels,
		dirty:  make(map[int32]struct{}),
	}, nil
}

// ID returns the owning segmentation id.
func (v *VolumeStore) ID() segvol.SegmentationID {
	return v.id
}

// Shape returns the volume extents in (depth, height, width) order.
func (v *VolumeStore) Shape() segvol.Shape {
	return v.shape
}

// ValueAt returns the label at internal coordinates (z, y, x).
func (v *VolumeStore) ValueAt(z, y, x int32) (segvol.LabelID, error) {
	s := v.shape
	if z < 0 || z >= s.Depth() || y < 0 || y >= s.Height() || x < 0 || x >= s.Width() {
		return 0, segvol.Validationf("coordinate (%d, %d, %d) outside shape %s", z, y, x, s)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return segvol.LabelID(v.voxels[int64(z)*s.SliceVoxels()+int64(y)*int64(s.Width())+int64(x)]), nil
}

// SliceCopy copies out the 2D label slice at the given depth index.  The
// read lock is held only for the copy so renders don't block painting.
func (v *VolumeStore) SliceCopy(z int32) ([]uint8, error) {
	if z < 0 || z >= v.shape.Depth() {
		return nil, segvol.Validationf("slice index %d outside [0, %d)", z, v.shape.Depth())
	}
	n := v.shape.SliceVoxels()
	out := make([]uint8, n)
	v.mu.RLock()
	copy(out, v.voxels[int64(z)*n:(int64(z)+1)*n])
	v.mu.RUnlock()
	return out, nil
}

// sliceAtLocked returns the live slice data.  Caller must hold the lock.
func (v *VolumeStore) sliceAtLocked(z int32) []uint8 {
	n := v.shape.SliceVoxels()
	return v.voxels[int64(z)*n : (int64(z)+1)*n]
}

// DirtySlices returns the sorted depth indices modified since the last flush.
func (v *VolumeStore) DirtySlices() []int32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dirtySlicesLocked()
}

func (v *VolumeStore) dirtySlicesLocked() []int32 {
	slices := make([]int32, 0, len(v.dirty))
	for z := range v.dirty {
		slices = append(slices, z)
	}
	sort.Slice(slices, func(i, j int) bool { return slices[i] < slices[j] })
	return slices
}

// IsDirty returns true if any slice has unflushed edits.
func (v *VolumeStore) IsDirty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.dirty) > 0
}

func (v *VolumeStore) clearDirtyLocked() {
	v.dirty = make(map[int32]struct{})
}

// MarkAllDirty flags every slice for the next flush, forcing a full rewrite.
// Used by migration tooling after loading a legacy-format volume.
func (v *VolumeStore) MarkAllDirty() {
	v.mu.Lock()
	for z := int32(0); z < v.shape.Depth(); z++ {
		v.dirty[z] = struct{}{}
	}
	v.mu.Unlock()
}

// checkLabelsLocked verifies every voxel value is a defined label.  Values
// outside the label set are a data-integrity violation.  Caller must hold
// the lock.
func (v *VolumeStore) checkLabelsLocked(labels LabelSet) error {
	defined := [256]bool{}
	for _, d := range labels {
		defined[d.ID] = true
	}
	for i, val := range v.voxels {
		if !defined[val] {
			z := int64(i) / v.shape.SliceVoxels()
			return segvol.Validationf("volume %q contains undefined label %d at slice %d", v.id, val, z)
		}
	}
	return nil
}
