package segmentation

import (
	"testing"

	"github.com/voxelmed/segvol/segvol"
)

func testLabels() LabelSet {
	return LabelSet{
		BackgroundDefinition(),
		{ID: 1, Name: "Tumor", Color: "#FF0000", Opacity: 0.5, Visible: true},
		{ID: 2, Name: "Edema", Color: "#00FF00", Opacity: 0.4, Visible: true},
		{ID: 3, Name: "Necrosis", Color: "#0000FF", Opacity: 0.8, Visible: false},
	}
}

func TestLabelSetValidate(t *testing.T) {
	if err := testLabels().Validate(); err != nil {
		t.Fatalf("valid label set failed validation: %v\n", err)
	}

	missing := LabelSet{
		{ID: 1, Name: "Tumor", Color: "#FF0000", Opacity: 0.5, Visible: true},
	}
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected failure for label set missing background\n")
	}

	duplicate := append(testLabels(), LabelDefinition{ID: 1, Name: "Dup", Color: "#FFFFFF", Opacity: 0.1})
	if err := duplicate.Validate(); err == nil {
		t.Fatalf("expected failure for duplicate label id\n")
	}

	visibleBackground := LabelSet{
		{ID: 0, Name: "Background", Color: "#000000", Opacity: 0.2, Visible: false},
	}
	if err := visibleBackground.Validate(); err == nil {
		t.Fatalf("expected failure for background with nonzero opacity\n")
	}

	badColor := LabelSet{
		BackgroundDefinition(),
		{ID: 1, Name: "Tumor", Color: "red", Opacity: 0.5, Visible: true},
	}
	if err := badColor.Validate(); err == nil {
		t.Fatalf("expected failure for malformed color\n")
	}

	badOpacity := LabelSet{
		BackgroundDefinition(),
		{ID: 1, Name: "Tumor", Color: "#FF0000", Opacity: 1.5, Visible: true},
	}
	if err := badOpacity.Validate(); err == nil {
		t.Fatalf("expected failure for opacity above 1\n")
	}
}

func TestLabelColorParse(t *testing.T) {
	d := LabelDefinition{ID: 7, Name: "Vessel", Color: "#12AB3c"}
	r, g, b, err := d.RGB()
	if err != nil {
		t.Fatalf("RGB parse: %v\n", err)
	}
	if r != 0x12 || g != 0xAB || b != 0x3C {
		t.Fatalf("expected (12, AB, 3C), got (%X, %X, %X)\n", r, g, b)
	}
}

func TestLabelSetLookup(t *testing.T) {
	ls := testLabels()
	if !ls.Has(2) {
		t.Fatalf("expected label 2 to be defined\n")
	}
	if ls.Has(200) {
		t.Fatalf("did not expect label 200 to be defined\n")
	}
	d, found := ls.Get(segvol.LabelID(3))
	if !found || d.Name != "Necrosis" {
		t.Fatalf("bad lookup of label 3: %v %v\n", d, found)
	}
}

func TestSidecarSchema(t *testing.T) {
	seg, _, err := NewSegmentation("case-17", "study/42/series/3", testLabels(),
		segvol.NewShape(4, 8, 8), "annotator@clinic", VolumeFile)
	if err != nil {
		t.Fatalf("NewSegmentation: %v\n", err)
	}
	data, err := seg.MarshalSidecar()
	if err != nil {
		t.Fatalf("MarshalSidecar: %v\n", err)
	}
	loaded, err := UnmarshalSidecar(data)
	if err != nil {
		t.Fatalf("UnmarshalSidecar: %v\n", err)
	}
	if loaded.ID != seg.ID || !loaded.Shape.Equals(seg.Shape) || loaded.SourceFormat != VolumeFile {
		t.Fatalf("sidecar did not round trip: %v\n", loaded)
	}

	if _, err := UnmarshalSidecar([]byte(`{"id": "x"}`)); err == nil {
		t.Fatalf("expected schema failure for incomplete sidecar\n")
	}
	if _, err := UnmarshalSidecar([]byte(`not json`)); err == nil {
		t.Fatalf("expected failure for malformed sidecar\n")
	}
	bad := []byte(`{"id": "x", "labels": [{"id": 0, "name": "Background", "color": "#000000"}],
		"shape": [4, 8, 8], "status": "SHIPPED", "source_format": "VOLUME_FILE"}`)
	if _, err := UnmarshalSidecar(bad); err == nil {
		t.Fatalf("expected schema failure for unknown status\n")
	}
}
