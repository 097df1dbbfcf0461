package detections

import (
	"sort"

	"github.com/pavescan/road-defect-service/models"
)

// IoU computes intersection-over-union of two center-form boxes.
// An empty union yields 0.
func IoU(a, b models.BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := cornerForm(a)
	bx1, by1, bx2, by2 := cornerForm(b)

	interW := minF(ax2, bx2) - maxF(ax1, bx1)
	interH := minF(ay2, by2) - maxF(ay1, by1)
	if interW < 0 {
		interW = 0
	}
	if interH < 0 {
		interH = 0
	}
	inter := interW * interH

	union := (ax2-ax1)*(ay2-ay1) + (bx2-bx1)*(by2-by1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func cornerForm(b models.BoundingBox) (x1, y1, x2, y2 float32) {
	return b.X - b.W/2, b.Y - b.H/2, b.X + b.W/2, b.Y + b.H/2
}

// indexed pairs a detection with its position in the input batch. Ties on
// confidence break by original index so identical input always produces
// identical output.
type indexed struct {
	det models.Detection
	idx int
}

// ClassAwareNMS suppresses overlapping detections within each class using the
// per-class IoU threshold, then caps the merged result at MaxResults.
func ClassAwareNMS(in []models.Detection) []models.Detection {
	return suppress(in, PerClassIoUThreshold, true)
}

// GlobalNMS runs the same sweep over a single partition holding every
// detection regardless of class.
func GlobalNMS(in []models.Detection) []models.Detection {
	return suppress(in, GlobalIoUThreshold, false)
}

func suppress(in []models.Detection, iouThreshold float32, perClass bool) []models.Detection {
	if len(in) == 0 {
		return nil
	}

	// Partition by label in first-seen order.
	var order []string
	partitions := make(map[string][]indexed)
	for i, d := range in {
		key := ""
		if perClass {
			key = d.Label
		}
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], indexed{det: d, idx: i})
	}

	kept := make([]indexed, 0, len(in))
	for _, key := range order {
		part := partitions[key]
		sortByConfidence(part)

		removed := make([]bool, len(part))
		for i := range part {
			if removed[i] {
				continue
			}
			kept = append(kept, part[i])
			for j := i + 1; j < len(part); j++ {
				if removed[j] {
					continue
				}
				if IoU(part[i].det.Box, part[j].det.Box) > iouThreshold {
					removed[j] = true
				}
			}
		}
	}

	sortByConfidence(kept)
	if len(kept) > MaxResults {
		kept = kept[:MaxResults]
	}

	out := make([]models.Detection, len(kept))
	for i, k := range kept {
		out[i] = k.det
	}
	return out
}

func sortByConfidence(entries []indexed) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].det.Confidence != entries[j].det.Confidence {
			return entries[i].det.Confidence > entries[j].det.Confidence
		}
		return entries[i].idx < entries[j].idx
	})
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
