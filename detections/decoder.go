package detections

import (
	"fmt"
	"math"
	"time"

	"github.com/pavescan/road-defect-service/models"
)

// tensorLayout is the physical arrangement of the model output.
type tensorLayout int

const (
	layoutChannelMajor   tensorLayout = iota // [V, N]: one row per value channel
	layoutCandidateMajor                     // [N, V]: one row per candidate
)

// resolvedTensor is the normalized [candidate][value] view built once per
// tensor, so the decode loop never touches shape logic.
type resolvedTensor struct {
	data       []float32
	layout     tensorLayout
	stride     int // length of the inner dimension
	candidates int // length of the candidate axis
}

// resolveTensor strips length-1 outer dimensions until the shape matches one
// of the two recognized layouts. Anything else fails the frame.
func resolveTensor(raw *models.RawTensor) (*resolvedTensor, error) {
	dims := make([]int, 0, len(raw.Shape))
	for _, d := range raw.Shape {
		dims = append(dims, int(d))
	}

	for {
		if len(dims) == 2 {
			rows, cols := dims[0], dims[1]
			if rows == ValuesPerCandidate && cols >= NumCandidates {
				return &resolvedTensor{
					data: raw.Data, layout: layoutChannelMajor,
					stride: cols, candidates: cols,
				}, nil
			}
			if cols == ValuesPerCandidate && rows >= NumCandidates {
				return &resolvedTensor{
					data: raw.Data, layout: layoutCandidateMajor,
					stride: cols, candidates: rows,
				}, nil
			}
			return nil, fmt.Errorf("unrecognized output tensor shape %v", raw.Shape)
		}
		if len(dims) > 2 && dims[0] == 1 {
			dims = dims[1:]
			continue
		}
		return nil, fmt.Errorf("unrecognized output tensor shape %v", raw.Shape)
	}
}

// at reads value channel v of candidate i. The bool is false when the index
// falls outside the backing buffer, which marks the candidate malformed.
func (t *resolvedTensor) at(i, v int) (float32, bool) {
	var idx int
	switch t.layout {
	case layoutChannelMajor:
		idx = v*t.stride + i
	default:
		idx = i*t.stride + v
	}
	if idx < 0 || idx >= len(t.data) {
		return 0, false
	}
	return t.data[idx], true
}

// DecodeTensor converts one raw output tensor into a flat candidate list.
// No confidence filtering happens here; the orchestrator applies the
// threshold once over the whole batch.
func DecodeTensor(raw *models.RawTensor, observedAt time.Time) ([]models.Detection, error) {
	rt, err := resolveTensor(raw)
	if err != nil {
		return nil, err
	}

	limit := NumCandidates
	if rt.candidates < limit {
		limit = rt.candidates
	}

	out := make([]models.Detection, 0, limit)
	for i := 0; i < limit; i++ {
		det, ok := rt.decodeCandidate(i, observedAt)
		if !ok {
			// Malformed slot; the rest of the batch still decodes.
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

func (t *resolvedTensor) decodeCandidate(i int, observedAt time.Time) (models.Detection, bool) {
	var fields [4]float32
	var maxField float32
	for v := 0; v < 4; v++ {
		f, ok := t.at(i, v)
		if !ok {
			return models.Detection{}, false
		}
		fields[v] = f
		if f > maxField {
			maxField = f
		}
	}
	// Box fields above 1.5 can only be pixel-scale output; rescale to the
	// normalized range the rest of the pipeline works in.
	if maxField > 1.5 {
		for v := range fields {
			fields[v] /= InputSize
		}
	}

	// Class scores may arrive as logits or probabilities depending on how the
	// model was exported; sigmoid is applied either way.
	bestIdx := 0
	bestScore := float32(-1)
	for c := 0; c < ClassCount; c++ {
		s, ok := t.at(i, 4+c)
		if !ok {
			return models.Detection{}, false
		}
		if score := sigmoid(s); score > bestScore {
			bestScore = score
			bestIdx = c
		}
	}

	return models.Detection{
		Label:      LabelFor(bestIdx),
		Confidence: bestScore,
		Box:        models.NewBoundingBox(fields[0], fields[1], fields[2], fields[3]),
		ObservedAt: observedAt,
	}, true
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}
