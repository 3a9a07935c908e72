package segmentation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voxelmed/segvol/segvol"
)

// Status tracks a segmentation through clinical review.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReviewed   Status = "REVIEWED"
	StatusApproved   Status = "APPROVED"
)

// SourceFormat is the interchange format used to persist a segmentation's
// label volume.  Chosen at creation and fixed thereafter.
type SourceFormat string

const (
	// VolumeFile persists the whole array as one compressed volumetric file.
	VolumeFile SourceFormat = "VOLUME_FILE"

	// SliceSeries persists one 2D image file per depth index.
	SliceSeries SourceFormat = "SLICE_SERIES"
)

// Segmentation is the metadata record for one labeled annotation of a source
// image volume.  Shape is fixed at creation and is authoritative when
// validating any loaded volume array.
type Segmentation struct {
	ID             segvol.SegmentationID `json:"id"`
	SourceImageRef string                `json:"source_image_ref"`
	Labels         LabelSet              `json:"labels"`
	Shape          segvol.Shape          `json:"shape"` // (depth, height, width)
	Status         Status                `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	ModifiedAt     time.Time             `json:"modified_at"`
	Creator        string                `json:"creator"`
	Reviewer       string                `json:"reviewer,omitempty"`
	SourceFormat   SourceFormat          `json:"source_format"`

	// VoxelSpacing is recorded in the sidecar for downstream consumers.
	// The engine always writes unit spacing.
	VoxelSpacing [3]float64 `json:"voxel_spacing"`

	// Progress is the percentage of depth slices carrying any annotation,
	// recomputed on every successful save.
	Progress int `json:"progress_percentage"`

	// Statistics holds per-label voxel counts from the last save.
	Statistics *Statistics `json:"statistics,omitempty"`
}

// NewSegmentation creates a segmentation record with a matching all-background
// volume store.
func NewSegmentation(id segvol.SegmentationID, sourceRef string, labels LabelSet, shape segvol.Shape, creator string, format SourceFormat) (*Segmentation, *VolumeStore, error) {
	if id == "" {
		return nil, nil, segvol.Validationf("segmentation id may not be empty")
	}
	if err := labels.Validate(); err != nil {
		return nil, nil, err
	}
	if err := shape.Validate(); err != nil {
		return nil, nil, err
	}
	switch format {
	case VolumeFile, SliceSeries:
	default:
		return nil, nil, segvol.Validationf("unknown source format %q", format)
	}
	now := time.Now().UTC()
	seg := &Segmentation{
		ID:             id,
		SourceImageRef: sourceRef,
		Labels:         labels,
		Shape:          shape,
		Status:         StatusDraft,
		CreatedAt:      now,
		ModifiedAt:     now,
		Creator:        creator,
		SourceFormat:   format,
		VoxelSpacing:   [3]float64{1, 1, 1},
	}
	return seg, NewVolumeStore(id, shape), nil
}

// MarkModified bumps the modification time and performs the one-way
// DRAFT -> IN_PROGRESS transition on first edit.
func (s *Segmentation) MarkModified() {
	s.ModifiedAt = time.Now().UTC()
	if s.Status == StatusDraft {
		s.Status = StatusInProgress
	}
}

// sidecarSchema validates the structured-text sidecar before unmarshaling, so
// a hand-edited or truncated metadata file fails loudly instead of producing a
// half-initialized record.
const sidecarSchema = `{
	"type": "object",
	"required": ["id", "labels", "shape", "status", "source_format"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"labels": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "name", "color"],
				"properties": {
					"id": {"type": "integer", "minimum": 0, "maximum": 255},
					"name": {"type": "string"},
					"color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"},
					"opacity": {"type": "number", "minimum": 0, "maximum": 1},
					"visible": {"type": "boolean"}
				}
			}
		},
		"shape": {
			"type": "array",
			"minItems": 3,
			"maxItems": 3,
			"items": {"type": "integer", "minimum": 1}
		},
		"status": {"enum": ["DRAFT", "IN_PROGRESS", "REVIEWED", "APPROVED"]},
		"source_format": {"enum": ["VOLUME_FILE", "SLICE_SERIES"]},
		"progress_percentage": {"type": "integer", "minimum": 0, "maximum": 100}
	}
}`

var compiledSidecarSchema = jsonschema.MustCompileString("sidecar.json", sidecarSchema)

// MarshalSidecar serializes the metadata record for the sidecar file.
func (s *Segmentation) MarshalSidecar() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSidecar validates and parses a sidecar metadata file.
func UnmarshalSidecar(data []byte) (*Segmentation, error) {
	var doc interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, segvol.Validationf("sidecar metadata is not valid JSON: %v", err)
	}
	if err := compiledSidecarSchema.Validate(doc); err != nil {
		return nil, segvol.Validationf("sidecar metadata fails schema: %v", err)
	}
	var seg Segmentation
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, segvol.Validationf("can't unmarshal sidecar metadata: %v", err)
	}
	if err := seg.Labels.Validate(); err != nil {
		return nil, err
	}
	if err := seg.Shape.Validate(); err != nil {
		return nil, err
	}
	return &seg, nil
}

func (s *Segmentation) String() string {
	return fmt.Sprintf("segmentation %q %s %s", s.ID, s.Shape, s.Status)
}
