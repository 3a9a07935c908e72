/*
	This file implements the VOLUME_FILE codec: the whole label array is
	transposed from internal (depth, height, width) to the external
	(width, height, depth) convention and written as one compressed file.

	Layout after decompression of the serialization envelope:

		3 x int32 little-endian: stored extents, in the order the data
		    was flattened (C order over those extents)
		voxel bytes

	Carrying the stored extents lets the loader detect the legacy incorrect
	(height, width, depth) axis order, which has the same element count as
	the correct external order, and migrate it with exactly one transpose.
*/

package segmentation

import (
	"bytes"
	"encoding/binary"

	"github.com/voxelmed/segvol/segvol"
)

// encodeVolumeFile serializes voxels (internal axis order) for the given
// shape into the compressed external-order volume file.
func encodeVolumeFile(shape segvol.Shape, voxels []uint8) ([]byte, error) {
	external := shape.External()
	payload := make([]byte, 12+len(voxels))
	for dim, extent := range external {
		binary.LittleEndian.PutUint32(payload[dim*4:], uint32(extent))
	}
	transposeToExternal(shape, voxels, payload[12:])
	return segvol.SerializeData(payload, segvol.Snappy, segvol.CRC32)
}

// decodeVolumeFile decompresses a volume file and returns the stored extents
// plus the flat voxel data in the stored order.
func decodeVolumeFile(data []byte) (stored segvol.Shape, voxels []uint8, err error) {
	payload, _, err := segvol.DeserializeData(data, true)
	if err != nil {
		return stored, nil, err
	}
	if len(payload) < 12 {
		return stored, nil, segvol.Validationf("volume file too short (%d bytes)", len(payload))
	}
	for dim := range stored {
		stored[dim] = int32(binary.LittleEndian.Uint32(payload[dim*4:]))
	}
	voxels = payload[12:]
	if err := stored.Validate(); err != nil {
		return stored, nil, err
	}
	if int64(len(voxels)) != stored.NumVoxels() {
		return stored, nil, segvol.Validationf("volume file has %d voxels but declares extents %s", len(voxels), stored)
	}
	return stored, voxels, nil
}

// transposeToExternal rewrites internal (d,h,w) C-order data as external
// (w,h,d) C-order data into out, which must have the same length.
func transposeToExternal(shape segvol.Shape, in, out []uint8) {
	d, h, w := int64(shape.Depth()), int64(shape.Height()), int64(shape.Width())
	for z := int64(0); z < d; z++ {
		for y := int64(0); y < h; y++ {
			row := in[z*h*w+y*w : z*h*w+y*w+w]
			for x, val := range row {
				out[int64(x)*h*d+y*d+z] = val
			}
		}
	}
}

// transposeFromExternal rewrites external (w,h,d) C-order data as internal
// (d,h,w) C-order data.
func transposeFromExternal(shape segvol.Shape, ext []uint8) []uint8 {
	d, h, w := int64(shape.Depth()), int64(shape.Height()), int64(shape.Width())
	out := make([]uint8, len(ext))
	for x := int64(0); x < w; x++ {
		for y := int64(0); y < h; y++ {
			col := ext[x*h*d+y*d : x*h*d+y*d+d]
			for z, val := range col {
				out[int64(z)*h*w+y*w+x] = val
			}
		}
	}
	return out
}

// transposeFromLegacy rewrites legacy (h,w,d) C-order data as internal
// (d,h,w) C-order data.
func transposeFromLegacy(shape segvol.Shape, legacy []uint8) []uint8 {
	d, h, w := int64(shape.Depth()), int64(shape.Height()), int64(shape.Width())
	out := make([]uint8, len(legacy))
	for y := int64(0); y < h; y++ {
		for x := int64(0); x < w; x++ {
			col := legacy[y*w*d+x*d : y*w*d+x*d+d]
			for z, val := range col {
				out[int64(z)*h*w+y*w+x] = val
			}
		}
	}
	return out
}

// migrateLoadedVolume reconciles loaded voxel data against the authoritative
// shape.  Data already in external order for the right shape is transposed
// back; data in the legacy (height, width, depth) order is migrated with one
// transpose; anything else is a dimension mismatch.  The loader never
// silently truncates or reshapes.
func migrateLoadedVolume(authoritative, stored segvol.Shape, voxels []uint8) ([]uint8, error) {
	switch {
	case stored.Equals(authoritative.External()):
		return transposeFromExternal(authoritative, voxels), nil
	case stored.Equals(authoritative.LegacyTransposed()):
		segvol.Warningf("Migrating legacy axis order %s to %s.\n", stored, authoritative)
		return transposeFromLegacy(authoritative, voxels), nil
	default:
		return nil, segvol.Validationf("stored extents %s match neither external %s nor legacy %s order",
			stored, authoritative.External(), authoritative.LegacyTransposed())
	}
}

// encodeLegacyRaw is only used by tests and migration tooling: the legacy
// fallback format is a single uncompressed raw array in internal axis order.
func encodeLegacyRaw(voxels []uint8) []byte {
	return bytes.Clone(voxels)
}
