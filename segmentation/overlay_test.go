package segmentation

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/voxelmed/segvol/segvol"
)

func TestRenderTransparent(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(2, 4, 4), VolumeFile)
	engine := NewPaintEngine(nil)
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 1, CenterY: 1, BrushSize: 1, Label: 1}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}
	// Label 3 is defined but hidden; it must not render.
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 3, CenterY: 3, BrushSize: 1, Label: 3}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}

	c := NewCompositor(nil)
	img, err := c.RenderTransparent(seg, vol, 0, nil)
	if err != nil {
		t.Fatalf("RenderTransparent: %v\n", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("render is %v, voxel grid is 4x4\n", img.Bounds())
	}

	// Painted voxel: label 1 is #FF0000 at opacity 0.5 -> alpha 128.
	r, g, b, a := nrgbaAt(img, 1, 1)
	if r != 255 || g != 0 || b != 0 || a != 128 {
		t.Fatalf("painted pixel is (%d, %d, %d, %d), expected (255, 0, 0, 128)\n", r, g, b, a)
	}
	// Background voxel: fully transparent.
	if _, _, _, a := nrgbaAt(img, 0, 0); a != 0 {
		t.Fatalf("background pixel has alpha %d, expected 0\n", a)
	}
	// Hidden label voxel: fully transparent.
	if _, _, _, a := nrgbaAt(img, 3, 3); a != 0 {
		t.Fatalf("hidden label pixel has alpha %d, expected 0\n", a)
	}
}

func nrgbaAt(img *image.NRGBA, x, y int) (uint8, uint8, uint8, uint8) {
	p := img.PixOffset(x, y)
	return img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3]
}

func TestRenderBlended(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(1, 2, 2), VolumeFile)
	engine := NewPaintEngine(nil)
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 1, CenterY: 1, BrushSize: 1, Label: 1}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}

	// Base intensities 0, 100, 200, 300 normalize to 0, 85, 170, 255.
	base := []uint16{0, 100, 200, 300}
	img, err := NewCompositor(nil).RenderBlended(seg, vol, 0, base, nil)
	if err != nil {
		t.Fatalf("RenderBlended: %v\n", err)
	}

	// Unlabeled pixel keeps the normalized gray in all channels.
	p := img.PixOffset(1, 0)
	if img.Pix[p] != 85 || img.Pix[p+1] != 85 || img.Pix[p+2] != 85 || img.Pix[p+3] != 255 {
		t.Fatalf("unlabeled pixel: got (%d, %d, %d, %d)\n", img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3])
	}

	// Labeled pixel blends gray 255 toward #FF0000 at opacity 0.5:
	// red stays 255, green and blue drop to 128.
	p = img.PixOffset(1, 1)
	if img.Pix[p] != 255 || img.Pix[p+1] != 128 || img.Pix[p+2] != 128 {
		t.Fatalf("blended pixel: got (%d, %d, %d)\n", img.Pix[p], img.Pix[p+1], img.Pix[p+2])
	}
}

func TestRenderBaseSizeMismatch(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(1, 4, 4), VolumeFile)
	_, err := NewCompositor(nil).RenderBlended(seg, vol, 0, make([]uint16, 9), nil)
	if err == nil || !segvol.IsValidation(err) {
		t.Fatalf("expected validation error for base size mismatch, got %v\n", err)
	}
	if _, err := NewCompositor(nil).RenderTransparent(seg, vol, 5, nil); err == nil {
		t.Fatalf("expected error for out-of-range slice index\n")
	}
}

func TestRenderLabelFilter(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(1, 4, 4), VolumeFile)
	engine := NewPaintEngine(nil)
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 0, CenterY: 0, BrushSize: 1, Label: 1}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 2, CenterY: 2, BrushSize: 1, Label: 2}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}

	filter := LabelFilter{2: {}}
	img, err := NewCompositor(nil).RenderTransparent(seg, vol, 0, filter)
	if err != nil {
		t.Fatalf("RenderTransparent: %v\n", err)
	}
	if _, _, _, a := nrgbaAt(img, 0, 0); a != 0 {
		t.Fatalf("filtered-out label 1 rendered with alpha %d\n", a)
	}
	if _, _, _, a := nrgbaAt(img, 2, 2); a == 0 {
		t.Fatalf("label 2 passed the filter but did not render\n")
	}
}

func TestSerializedMask(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(2, 4, 4), VolumeFile)
	engine := NewPaintEngine(nil)
	if err := engine.Apply(seg, vol, Stroke{Slice: 1, CenterX: 2, CenterY: 2, BrushSize: 3, Label: 2}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}

	enc, err := NewCompositor(nil).SerializedMask(vol, 1)
	if err != nil {
		t.Fatalf("SerializedMask: %v\n", err)
	}
	slice, _, err := segvol.DeserializeData(enc, true)
	if err != nil {
		t.Fatalf("mask did not deserialize: %v\n", err)
	}
	want, err := vol.SliceCopy(1)
	if err != nil {
		t.Fatalf("SliceCopy: %v\n", err)
	}
	if !bytes.Equal(slice, want) {
		t.Fatalf("serialized mask does not match the slice data\n")
	}

	if _, err := NewCompositor(nil).SerializedMask(vol, 9); err == nil {
		t.Fatalf("expected error for out-of-range slice index\n")
	}
}

func TestRenderPNG(t *testing.T) {
	seg, vol := newTestSegmentation(t, segvol.NewShape(1, 4, 4), VolumeFile)
	engine := NewPaintEngine(nil)
	if err := engine.Apply(seg, vol, Stroke{Slice: 0, CenterX: 1, CenterY: 1, BrushSize: 3, Label: 2}); err != nil {
		t.Fatalf("Apply: %v\n", err)
	}

	enc, err := NewCompositor(nil).RenderPNG(seg, vol, 0, nil, nil)
	if err != nil {
		t.Fatalf("RenderPNG: %v\n", err)
	}
	img, err := png.Decode(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("encoded overlay is not a valid PNG: %v\n", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("decoded overlay is %v, expected 4x4\n", img.Bounds())
	}
}
