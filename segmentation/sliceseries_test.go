package segmentation

import (
	"bytes"
	"testing"

	"github.com/voxelmed/segvol/storage"
)

func TestSliceCodecRoundTrip(t *testing.T) {
	hdr := sliceHeader{
		UID:               newInstanceUID(),
		SeriesUID:         newSeriesUID(),
		Index:             7,
		Position:          7,
		SeriesDescription: "Segmentation case-17 of study/42",
		Rows:              3,
		Cols:              5,
	}
	pixels := []uint8{
		0, 1, 1, 0, 0,
		0, 1, 2, 2, 0,
		0, 0, 2, 0, 3,
	}
	data, err := encodeSlice(hdr, pixels)
	if err != nil {
		t.Fatalf("encodeSlice: %v\n", err)
	}
	got, gotPixels, err := decodeSlice(data)
	if err != nil {
		t.Fatalf("decodeSlice: %v\n", err)
	}
	if got != hdr {
		t.Fatalf("header did not round trip: %+v vs %+v\n", got, hdr)
	}
	if !bytes.Equal(gotPixels, pixels) {
		t.Fatalf("pixels did not round trip\n")
	}
}

func TestSliceCodecRejectsMalformed(t *testing.T) {
	hdr := sliceHeader{UID: "u", SeriesUID: "s", Index: 0, Rows: 2, Cols: 2}

	if _, err := encodeSlice(hdr, make([]uint8, 3)); err == nil {
		t.Fatalf("expected rejection of pixel count mismatch\n")
	}

	data, err := encodeSlice(hdr, make([]uint8, 4))
	if err != nil {
		t.Fatalf("encodeSlice: %v\n", err)
	}
	if _, _, err := decodeSlice([]byte("PNG?")); err == nil {
		t.Fatalf("expected rejection of bad magic\n")
	}
	if _, _, err := decodeSlice(data[:6]); err == nil {
		t.Fatalf("expected rejection of truncated file\n")
	}
	if _, _, err := decodeSlice(data[:len(data)-4]); err == nil {
		t.Fatalf("expected rejection of truncated image payload\n")
	}
}

func TestSliceKeyOrdering(t *testing.T) {
	// Zero-padded indices keep lexical key order equal to numeric order.
	prev := sliceKey("case-17", 0)
	for z := int32(1); z < 120; z++ {
		k := sliceKey("case-17", z)
		if string(prev) >= string(k) {
			t.Fatalf("keys out of order: %q >= %q\n", prev, k)
		}
		idx, err := sliceIndexFromKey(k)
		if err != nil {
			t.Fatalf("sliceIndexFromKey(%q): %v\n", k, err)
		}
		if idx != z {
			t.Fatalf("key %q parsed to index %d\n", k, idx)
		}
		prev = k
	}

	if _, err := sliceIndexFromKey(storage.Key("seg/case-17/slices/thumbnail.png")); err == nil {
		t.Fatalf("expected rejection of non-slice key\n")
	}
}
