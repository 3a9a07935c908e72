/*
	Package segmentation implements manual volumetric segmentation: per-voxel
	label painting on a 3D medical image, a bounded in-memory working set of
	label volumes, durable persistence in two interchange formats, and 2D
	overlay compositing over the source image.

	NOTE: Zero value labels are reserved for background.
*/
package segmentation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voxelmed/segvol/segvol"
)

// LabelDefinition describes one paintable label: its voxel value, display
// name, and render settings.
type LabelDefinition struct {
	ID      segvol.LabelID `json:"id"`
	Name    string         `json:"name"`
	Color   string         `json:"color"` // 24-bit RGB as "#RRGGBB"
	Opacity float64        `json:"opacity"`
	Visible bool           `json:"visible"`
}

// RGB parses the 24-bit hex color of this label.
func (d LabelDefinition) RGB() (r, g, b uint8, err error) {
	hex := strings.TrimPrefix(d.Color, "#")
	if len(hex) != 6 {
		err = segvol.Validationf("label %d has malformed color %q", d.ID, d.Color)
		return
	}
	v, perr := strconv.ParseUint(hex, 16, 32)
	if perr != nil {
		err = segvol.Validationf("label %d has malformed color %q: %v", d.ID, d.Color, perr)
		return
	}
	r = uint8(v >> 16)
	g = uint8(v >> 8)
	b = uint8(v)
	return
}

func (d LabelDefinition) String() string {
	return fmt.Sprintf("label %d (%s)", d.ID, d.Name)
}

// BackgroundDefinition returns the required definition for label 0.
func BackgroundDefinition() LabelDefinition {
	return LabelDefinition{
		ID:      segvol.BackgroundLabel,
		Name:    "Background",
		Color:   "#000000",
		Opacity: 0,
		Visible: false,
	}
}

// LabelSet is the ordered collection of label definitions attached to a
// segmentation.  Order matters for overlay compositing: labels are applied
// in set order, so a voxel matching multiple labels ends up colored by the
// last one applied.
type LabelSet []LabelDefinition

// Validate enforces the label-set invariants: label 0 present exactly once
// with opacity 0 and visible=false, no duplicate ids, opacities in [0,1],
// and parseable colors.
func (ls LabelSet) Validate() error {
	if len(ls) == 0 {
		return segvol.Validationf("label set must at least contain the background label")
	}
	seen := make(map[segvol.LabelID]struct{}, len(ls))
	background := 0
	for _, d := range ls {
		if _, dup := seen[d.ID]; dup {
			return segvol.Validationf("label id %d defined more than once", d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Opacity < 0 || d.Opacity > 1 {
			return segvol.Validationf("label %d has opacity %g outside [0,1]", d.ID, d.Opacity)
		}
		if _, _, _, err := d.RGB(); err != nil {
			return err
		}
		if d.ID == segvol.BackgroundLabel {
			background++
			if d.Opacity != 0 || d.Visible {
				return segvol.Validationf("background label must have opacity 0 and be hidden")
			}
		}
	}
	if background != 1 {
		return segvol.Validationf("label set must contain the background label exactly once, got %d", background)
	}
	return nil
}

// Has returns true if the given label id is defined.
func (ls LabelSet) Has(id segvol.LabelID) bool {
	for _, d := range ls {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Get returns the definition for a label id.
func (ls LabelSet) Get(id segvol.LabelID) (LabelDefinition, bool) {
	for _, d := range ls {
		if d.ID == id {
			return d, true
		}
	}
	return LabelDefinition{}, false
}
