package segmentation

import (
	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage/rendercache"
)

// Stroke is one brush application on a single slice.  The brush is an
// axis-aligned square stamp of brush-size width centered on (CenterX,
// CenterY); the historical "circular brush" naming in clients does not match
// the painted region and the square is the contract.
type Stroke struct {
	Slice     int32
	CenterX   int32
	CenterY   int32
	BrushSize int32 // odd, >= 1
	Label     segvol.LabelID
	Erase     bool
}

// Validate checks stroke geometry against a shape and the target label
// against a label set.  Slice index out of range is an error, not clamped.
func (s Stroke) Validate(shape segvol.Shape, labels LabelSet) error {
	if s.Slice < 0 || s.Slice >= shape.Depth() {
		return segvol.Validationf("slice index %d outside [0, %d)", s.Slice, shape.Depth())
	}
	if s.BrushSize < 1 || s.BrushSize%2 == 0 {
		return segvol.Validationf("brush size must be an odd integer >= 1, got %d", s.BrushSize)
	}
	if s.CenterX < 0 || s.CenterY < 0 {
		return segvol.Validationf("stroke center (%d, %d) may not be negative", s.CenterX, s.CenterY)
	}
	if !s.Erase && !labels.Has(s.Label) {
		return segvol.Validationf("label %d is not defined for this segmentation", s.Label)
	}
	return nil
}

// PaintEngine applies strokes to volume stores.  The optional render cache is
// invalidated for each painted slice.
type PaintEngine struct {
	cache *rendercache.Cache
}

// NewPaintEngine returns an engine.  cache may be nil.
func NewPaintEngine(cache *rendercache.Cache) *PaintEngine {
	return &PaintEngine{cache: cache}
}

// Apply paints one stroke.  The affected region is the brush square centered
// on (CenterX, CenterY), clamped to the slice bounds; every voxel in the
// clamped region is set to 0 if erasing, else to the stroke label.  Side
// effects: the slice is marked dirty, the segmentation's modification time is
// bumped, and a DRAFT segmentation transitions to IN_PROGRESS.
func (e *PaintEngine) Apply(seg *Segmentation, v *VolumeStore, stroke Stroke) error {
	if seg.ID != v.ID() {
		return segvol.Validationf("volume %q does not belong to segmentation %q", v.ID(), seg.ID)
	}
	shape := v.Shape()
	if err := stroke.Validate(shape, seg.Labels); err != nil {
		return err
	}

	value := uint8(stroke.Label)
	if stroke.Erase {
		value = uint8(segvol.BackgroundLabel)
	}

	half := stroke.BrushSize / 2
	y0 := max32(stroke.CenterY-half, 0)
	y1 := min32(stroke.CenterY+half, shape.Height()-1)
	x0 := max32(stroke.CenterX-half, 0)
	x1 := min32(stroke.CenterX+half, shape.Width()-1)

	v.mu.Lock()
	if y0 <= y1 && x0 <= x1 {
		slice := v.sliceAtLocked(stroke.Slice)
		width := int64(shape.Width())
		for y := y0; y <= y1; y++ {
			row := slice[int64(y)*width : int64(y)*width+width]
			for x := x0; x <= x1; x++ {
				row[x] = value
			}
		}
	}
	v.dirty[stroke.Slice] = struct{}{}
	v.mu.Unlock()

	seg.MarkModified()
	e.cache.InvalidateSlice(seg.ID, stroke.Slice)
	return nil
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
