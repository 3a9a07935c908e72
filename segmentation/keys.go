/*
	This file defines the durable key layout for persisted segmentations:

		seg/{id}/meta.json          sidecar metadata (JSON)
		seg/{id}/volume.seg         VOLUME_FILE compressed volume
		seg/{id}/volume.raw         legacy uncompressed raw array (read-only)
		seg/{id}/slices/slice_NNNN.simg   SLICE_SERIES per-slice files

	Slice files use a fixed-width zero-padded index so lexical key ordering
	coincides with numeric slice ordering.
*/

package segmentation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
)

const sliceKeyWidth = 4

func segPrefix(id segvol.SegmentationID) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/", id))
}

func metaKey(id segvol.SegmentationID) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/meta.json", id))
}

func volumeKey(id segvol.SegmentationID) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/volume.seg", id))
}

func legacyVolumeKey(id segvol.SegmentationID) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/volume.raw", id))
}

func slicePrefix(id segvol.SegmentationID) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/slices/", id))
}

func sliceKey(id segvol.SegmentationID, z int32) storage.Key {
	return storage.Key(fmt.Sprintf("seg/%s/slices/slice_%0*d.simg", id, sliceKeyWidth, z))
}

// sliceIndexFromKey recovers the depth index from a slice file key.
func sliceIndexFromKey(k storage.Key) (int32, error) {
	name := string(k)
	i := strings.LastIndex(name, "/")
	base := name[i+1:]
	if !strings.HasPrefix(base, "slice_") || !strings.HasSuffix(base, ".simg") {
		return 0, segvol.Validationf("unexpected slice file name %q", base)
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "slice_"), ".simg"))
	if err != nil {
		return 0, segvol.Validationf("unexpected slice file name %q: %v", base, err)
	}
	return int32(idx), nil
}
