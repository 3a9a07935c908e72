package segmentation

import (
	"bytes"
	"testing"

	"github.com/voxelmed/segvol/segvol"
)

// patternVoxels fills a volume with a distinct value per coordinate so any
// axis-order mistake shows up as a mismatch.
func patternVoxels(shape segvol.Shape) []uint8 {
	voxels := make([]uint8, shape.NumVoxels())
	for i := range voxels {
		voxels[i] = uint8(i * 7)
	}
	return voxels
}

func TestVolumeFileRoundTrip(t *testing.T) {
	shape := segvol.NewShape(2, 3, 4)
	voxels := patternVoxels(shape)

	data, err := encodeVolumeFile(shape, voxels)
	if err != nil {
		t.Fatalf("encodeVolumeFile: %v\n", err)
	}
	stored, ext, err := decodeVolumeFile(data)
	if err != nil {
		t.Fatalf("decodeVolumeFile: %v\n", err)
	}
	if !stored.Equals(shape.External()) {
		t.Fatalf("expected stored extents %s, got %s\n", shape.External(), stored)
	}
	back, err := migrateLoadedVolume(shape, stored, ext)
	if err != nil {
		t.Fatalf("migrateLoadedVolume: %v\n", err)
	}
	if !bytes.Equal(back, voxels) {
		t.Fatalf("round trip through external order altered voxels\n")
	}
}

func TestTransposeInverses(t *testing.T) {
	shape := segvol.NewShape(3, 4, 5)
	voxels := patternVoxels(shape)

	ext := make([]uint8, len(voxels))
	transposeToExternal(shape, voxels, ext)
	if bytes.Equal(ext, voxels) {
		t.Fatalf("expected transpose to reorder a non-symmetric pattern\n")
	}
	if !bytes.Equal(transposeFromExternal(shape, ext), voxels) {
		t.Fatalf("transposeFromExternal is not the inverse of transposeToExternal\n")
	}
}

func TestLegacyAxisOrderMigration(t *testing.T) {
	shape := segvol.NewShape(2, 3, 4)
	voxels := patternVoxels(shape)
	d, h, w := int64(shape.Depth()), int64(shape.Height()), int64(shape.Width())

	// Flatten the same volume in the legacy (height, width, depth) C order,
	// the way old exporters wrote it.
	legacy := make([]uint8, len(voxels))
	for z := int64(0); z < d; z++ {
		for y := int64(0); y < h; y++ {
			for x := int64(0); x < w; x++ {
				legacy[y*w*d+x*d+z] = voxels[z*h*w+y*w+x]
			}
		}
	}

	migrated, err := migrateLoadedVolume(shape, shape.LegacyTransposed(), legacy)
	if err != nil {
		t.Fatalf("migrateLoadedVolume: %v\n", err)
	}
	if !bytes.Equal(migrated, voxels) {
		t.Fatalf("legacy migration produced wrong voxel layout\n")
	}
}

func TestVolumeFileDimensionMismatch(t *testing.T) {
	shape := segvol.NewShape(2, 3, 4)

	// Same element count, but neither the external nor the legacy order.
	bogus := segvol.NewShape(24, 1, 1)
	if _, err := migrateLoadedVolume(shape, bogus, make([]uint8, 24)); err == nil {
		t.Fatalf("expected rejection of extents %s for shape %s\n", bogus, shape)
	} else if !segvol.IsValidation(err) {
		t.Fatalf("expected validation error, got %v\n", err)
	}

	// Truncated and corrupted files must not decode.
	data, err := encodeVolumeFile(shape, patternVoxels(shape))
	if err != nil {
		t.Fatalf("encodeVolumeFile: %v\n", err)
	}
	if _, _, err := decodeVolumeFile(data[:5]); err == nil {
		t.Fatalf("expected failure on truncated volume file\n")
	}
}
