/*
	This file implements the SLICE_SERIES codec: one 2D image file per depth
	index.  Each file carries a synthetic unique identifier, slice position,
	and series metadata ahead of a PNG grayscale payload:

		"SSEG" magic (4 bytes)
		uint32 little-endian JSON header length
		JSON header
		PNG-encoded 8-bit grayscale label image
*/

package segmentation

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/png"

	"github.com/twinj/uuid"

	"github.com/voxelmed/segvol/segvol"
)

var sliceMagic = []byte("SSEG")

// sliceHeader tags one persisted slice the way a derived image series would
// be tagged: instance and series identifiers, position, and description.
type sliceHeader struct {
	UID               string  `json:"uid"`
	SeriesUID         string  `json:"series_uid"`
	Index             int32   `json:"slice_index"`
	Position          float64 `json:"slice_position"`
	SeriesDescription string  `json:"series_description"`
	Rows              int32   `json:"rows"`
	Cols              int32   `json:"cols"`
}

// newSeriesUID mints a synthetic series identifier for one export.
func newSeriesUID() string {
	return uuid.NewV4().String()
}

// newInstanceUID mints a synthetic per-slice instance identifier.
func newInstanceUID() string {
	return uuid.NewV4().String()
}

// encodeSlice packs one label slice with its header.  pixels must hold
// rows*cols label values in row-major order.
func encodeSlice(hdr sliceHeader, pixels []uint8) ([]byte, error) {
	if int64(len(pixels)) != int64(hdr.Rows)*int64(hdr.Cols) {
		return nil, segvol.Validationf("slice %d has %d pixels, header declares %dx%d",
			hdr.Index, len(pixels), hdr.Rows, hdr.Cols)
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}

	img := &image.Gray{
		Pix:    pixels,
		Stride: int(hdr.Cols),
		Rect:   image.Rect(0, 0, int(hdr.Cols), int(hdr.Rows)),
	}
	var buf bytes.Buffer
	buf.Write(sliceMagic)
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(hdrBytes)))
	buf.Write(lenBytes[:])
	buf.Write(hdrBytes)
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeSlice unpacks one slice file, returning its header and row-major
// label values.
func decodeSlice(data []byte) (hdr sliceHeader, pixels []uint8, err error) {
	if len(data) < 8 || !bytes.Equal(data[:4], sliceMagic) {
		err = segvol.Validationf("slice file lacks %q magic", sliceMagic)
		return
	}
	hdrLen := binary.LittleEndian.Uint32(data[4:8])
	if int64(len(data)) < 8+int64(hdrLen) {
		err = segvol.Validationf("slice file truncated in header")
		return
	}
	if err = json.Unmarshal(data[8:8+hdrLen], &hdr); err != nil {
		err = segvol.Validationf("can't unmarshal slice header: %v", err)
		return
	}
	if hdr.Rows <= 0 || hdr.Cols <= 0 {
		err = segvol.Validationf("slice %d header declares non-positive extents %dx%d", hdr.Index, hdr.Rows, hdr.Cols)
		return
	}

	img, derr := png.Decode(bytes.NewReader(data[8+hdrLen:]))
	if derr != nil {
		err = segvol.Validationf("can't decode slice %d image: %v", hdr.Index, derr)
		return
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		err = segvol.Validationf("slice %d image is %T, not 8-bit grayscale", hdr.Index, img)
		return
	}
	bounds := gray.Bounds()
	if int32(bounds.Dx()) != hdr.Cols || int32(bounds.Dy()) != hdr.Rows {
		err = segvol.Validationf("slice %d image is %dx%d, header declares %dx%d",
			hdr.Index, bounds.Dy(), bounds.Dx(), hdr.Rows, hdr.Cols)
		return
	}
	if gray.Stride == int(hdr.Cols) {
		pixels = gray.Pix
		return
	}
	pixels = make([]uint8, int(hdr.Rows)*int(hdr.Cols))
	for y := 0; y < int(hdr.Rows); y++ {
		copy(pixels[y*int(hdr.Cols):(y+1)*int(hdr.Cols)], gray.Pix[y*gray.Stride:y*gray.Stride+int(hdr.Cols)])
	}
	return
}
