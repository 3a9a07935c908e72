package segmentation

import (
	"math"

	"github.com/voxelmed/segvol/segvol"
)

// LabelStats summarizes one label's coverage of a volume.
type LabelStats struct {
	VoxelCount    int64   `json:"voxel_count"`
	Percentage    float64 `json:"percentage"`
	SlicesPresent int32   `json:"slices_present"`
}

// Statistics holds per-label voxel counts and coverage for a volume.
// Background (label 0) is excluded from PerLabel.
type Statistics struct {
	TotalVoxels int64                          `json:"total_voxels"`
	PerLabel    map[segvol.LabelID]*LabelStats `json:"per_label"`

	// AnnotatedSlices is the number of depth indices containing any
	// non-background label.
	AnnotatedSlices int32 `json:"annotated_slices"`
}

// ComputeStatistics scans a volume once, tallying voxel counts and slice
// presence per non-background label.
func ComputeStatistics(v *VolumeStore) *Statistics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return computeStatisticsLocked(v)
}

// computeStatisticsLocked does the scan without taking the volume lock, for
// callers already holding it (e.g. the save path).
func computeStatisticsLocked(v *VolumeStore) *Statistics {
	shape := v.Shape()
	stats := &Statistics{
		TotalVoxels: shape.NumVoxels(),
		PerLabel:    make(map[segvol.LabelID]*LabelStats),
	}

	var counts [256]int64
	var presentOnSlice [256]bool

	for z := int32(0); z < shape.Depth(); z++ {
		for i := range presentOnSlice {
			presentOnSlice[i] = false
		}
		for _, val := range v.sliceAtLocked(z) {
			counts[val]++
			presentOnSlice[val] = true
		}
		annotated := false
		for id := 1; id < 256; id++ {
			if presentOnSlice[id] {
				annotated = true
				stats.labelStats(segvol.LabelID(id)).SlicesPresent++
			}
		}
		if annotated {
			stats.AnnotatedSlices++
		}
	}

	for id := 1; id < 256; id++ {
		if counts[id] == 0 {
			continue
		}
		ls := stats.labelStats(segvol.LabelID(id))
		ls.VoxelCount = counts[id]
		ls.Percentage = float64(counts[id]) / float64(stats.TotalVoxels) * 100
	}
	return stats
}

func (s *Statistics) labelStats(id segvol.LabelID) *LabelStats {
	ls, found := s.PerLabel[id]
	if !found {
		ls = &LabelStats{}
		s.PerLabel[id] = ls
	}
	return ls
}

// ProgressPercentage is the share of depth slices carrying any annotation,
// rounded to an integer percentage.
func (s *Statistics) ProgressPercentage(depth int32) int {
	if depth == 0 {
		return 0
	}
	return int(math.Round(float64(s.AnnotatedSlices) / float64(depth) * 100))
}
