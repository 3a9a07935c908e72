/*
	Package segvol provides types, constants and functions that have no other
	dependencies and can be used by all packages within the segmentation engine.
*/
package segvol

import (
	"fmt"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// SegmentationID uniquely identifies one segmentation of a source image volume.
type SegmentationID string

// LabelID is a per-voxel label value.  Label 0 is reserved for background.
type LabelID uint8

// BackgroundLabel is the reserved label id for unannotated voxels.
const BackgroundLabel LabelID = 0

// Shape holds volume extents in internal (depth, height, width) axis order,
// where depth is the slice axis.
type Shape [3]int32

// NewShape returns a Shape given extents in (depth, height, width) order.
func NewShape(depth, height, width int32) Shape {
	return Shape{depth, height, width}
}

func (s Shape) Depth() int32  { return s[0] }
func (s Shape) Height() int32 { return s[1] }
func (s Shape) Width() int32  { return s[2] }

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s[0], s[1], s[2])
}

// NumVoxels returns the total number of voxels for this shape.
func (s Shape) NumVoxels() int64 {
	return int64(s[0]) * int64(s[1]) * int64(s[2])
}

// SliceVoxels returns the number of voxels in one depth slice.
func (s Shape) SliceVoxels() int64 {
	return int64(s[1]) * int64(s[2])
}

// Validate returns an error unless all extents are positive.
func (s Shape) Validate() error {
	for dim, extent := range s {
		if extent <= 0 {
			return Validationf("shape %s has non-positive extent along dimension %d", s, dim)
		}
	}
	return nil
}

// Equals returns true if both shapes have identical extents.
func (s Shape) Equals(s2 Shape) bool {
	return s[0] == s2[0] && s[1] == s2[1] && s[2] == s2[2]
}

// External returns the shape in the external (width, height, depth) convention
// used by the single-file volume format.
func (s Shape) External() Shape {
	return Shape{s[2], s[1], s[0]}
}

// LegacyTransposed returns the shape in the legacy incorrect
// (height, width, depth) order written by old exporters.
func (s Shape) LegacyTransposed() Shape {
	return Shape{s[1], s[2], s[0]}
}
