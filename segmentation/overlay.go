package segmentation

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage/rendercache"
)

// LabelFilter restricts a render to a subset of label ids.  A nil filter
// renders all labels.
type LabelFilter map[segvol.LabelID]struct{}

func (f LabelFilter) allows(id segvol.LabelID) bool {
	if f == nil {
		return true
	}
	_, found := f[id]
	return found
}

// Compositor renders 2D slices of a label volume, either blended over a base
// grayscale slice or as a transparent RGBA mask.  Render dimensions and pixel
// indices exactly match the source slice's voxel grid; no cropping, padding,
// or resampling happens here, so any downstream crop/zoom can be applied
// identically to the base image and the compositor output.
type Compositor struct {
	cache *rendercache.Cache
}

// NewCompositor returns a compositor.  cache may be nil.
func NewCompositor(cache *rendercache.Cache) *Compositor {
	return &Compositor{cache: cache}
}

// RenderBlended composites visible labels over a grayscale base slice.  The
// base is normalized to the 0-255 intensity range and replicated to three
// channels; each visible label (excluding background, restricted by filter)
// is then alpha-blended in label-set order:
//
//	out = (1 - opacity) * out + opacity * labelColor
func (c *Compositor) RenderBlended(seg *Segmentation, v *VolumeStore, z int32, base []uint16, filter LabelFilter) (*image.RGBA, error) {
	shape := v.Shape()
	height, width := int(shape.Height()), int(shape.Width())
	if len(base) != height*width {
		return nil, segvol.Validationf("base slice has %d pixels, voxel grid is %dx%d", len(base), height, width)
	}
	slice, err := v.SliceCopy(z)
	if err != nil {
		return nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	normalizeGray(base, out)

	for _, d := range seg.Labels {
		if d.ID == segvol.BackgroundLabel || !d.Visible || !filter.allows(d.ID) {
			continue
		}
		r, g, b, err := d.RGB()
		if err != nil {
			return nil, err
		}
		id := uint8(d.ID)
		op := d.Opacity
		for i, val := range slice {
			if val != id {
				continue
			}
			p := i * 4
			out.Pix[p] = blend(out.Pix[p], r, op)
			out.Pix[p+1] = blend(out.Pix[p+1], g, op)
			out.Pix[p+2] = blend(out.Pix[p+2], b, op)
		}
	}
	return out, nil
}

// RenderTransparent renders visible labels on a fully transparent background:
// RGB is the label color and alpha is round(opacity * 255) wherever a visible
// label matches, zero elsewhere.
func (c *Compositor) RenderTransparent(seg *Segmentation, v *VolumeStore, z int32, filter LabelFilter) (*image.NRGBA, error) {
	shape := v.Shape()
	height, width := int(shape.Height()), int(shape.Width())
	slice, err := v.SliceCopy(z)
	if err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for _, d := range seg.Labels {
		if d.ID == segvol.BackgroundLabel || !d.Visible || !filter.allows(d.ID) {
			continue
		}
		r, g, b, err := d.RGB()
		if err != nil {
			return nil, err
		}
		alpha := uint8(math.Round(d.Opacity * 255))
		id := uint8(d.ID)
		for i, val := range slice {
			if val != id {
				continue
			}
			p := i * 4
			out.Pix[p] = r
			out.Pix[p+1] = g
			out.Pix[p+2] = b
			out.Pix[p+3] = alpha
		}
	}
	return out, nil
}

// RenderPNG returns the PNG encoding of a render.  The unfiltered transparent
// render is cached opportunistically under segmentation:overlay:{id}:{slice};
// filtered or blended renders depend on per-request inputs and bypass the
// cache.
func (c *Compositor) RenderPNG(seg *Segmentation, v *VolumeStore, z int32, base []uint16, filter LabelFilter) ([]byte, error) {
	cacheable := base == nil && filter == nil
	if cacheable {
		if enc, found := c.cache.Get(rendercache.OverlayKey(seg.ID, z)); found {
			return enc, nil
		}
	}

	var img image.Image
	var err error
	if base != nil {
		img, err = c.RenderBlended(seg, v, z, base, filter)
	} else {
		img, err = c.RenderTransparent(seg, v, z, filter)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	enc := buf.Bytes()
	if cacheable {
		c.cache.Set(rendercache.OverlayKey(seg.ID, z), enc)
	}
	return enc, nil
}

// SerializedMask returns one label slice in the engine serialization envelope
// (Snappy + CRC32), for clients that hit-test or recolor labels themselves.
// Cached under segmentation:mask:{id}:{slice}; paint invalidates the entry.
func (c *Compositor) SerializedMask(v *VolumeStore, z int32) ([]byte, error) {
	if enc, found := c.cache.Get(rendercache.MaskKey(v.ID(), z)); found {
		return enc, nil
	}
	slice, err := v.SliceCopy(z)
	if err != nil {
		return nil, err
	}
	enc, err := segvol.SerializeData(slice, segvol.Snappy, segvol.CRC32)
	if err != nil {
		return nil, err
	}
	c.cache.Set(rendercache.MaskKey(v.ID(), z), enc)
	return enc, nil
}

// normalizeGray maps base intensities onto 0-255 using the slice min/max and
// replicates the result to the RGB channels of out with full alpha.
func normalizeGray(base []uint16, out *image.RGBA) {
	lo, hi := base[0], base[0]
	for _, v := range base[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := float64(0)
	if hi > lo {
		scale = 255 / float64(hi-lo)
	}
	for i, v := range base {
		gray := uint8(math.Round(float64(v-lo) * scale))
		p := i * 4
		out.Pix[p] = gray
		out.Pix[p+1] = gray
		out.Pix[p+2] = gray
		out.Pix[p+3] = 255
	}
}

// blend mixes one channel of an existing pixel toward a label color.
func blend(existing, color uint8, opacity float64) uint8 {
	return uint8(math.Round((1-opacity)*float64(existing) + opacity*float64(color)))
}
