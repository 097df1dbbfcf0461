package detections

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavescan/road-defect-service/models"
)

// candidateValues is one logical candidate: 4 box fields then class scores.
type candidateValues [ValuesPerCandidate]float32

func buildChannelMajor(vals map[int]candidateValues) *models.RawTensor {
	data := make([]float32, ValuesPerCandidate*NumCandidates)
	for i, v := range vals {
		for c := 0; c < ValuesPerCandidate; c++ {
			data[c*NumCandidates+i] = v[c]
		}
	}
	return &models.RawTensor{
		Data:  data,
		Shape: []int64{1, ValuesPerCandidate, NumCandidates},
	}
}

func buildCandidateMajor(vals map[int]candidateValues) *models.RawTensor {
	data := make([]float32, NumCandidates*ValuesPerCandidate)
	for i, v := range vals {
		for c := 0; c < ValuesPerCandidate; c++ {
			data[i*ValuesPerCandidate+c] = v[c]
		}
	}
	return &models.RawTensor{
		Data:  data,
		Shape: []int64{NumCandidates, ValuesPerCandidate},
	}
}

// TestDecodeChannelMajor tests recovery of a manufactured candidate from the
// [1,V,N] layout.
func TestDecodeChannelMajor(t *testing.T) {
	t.Parallel()

	now := time.Now()
	raw := buildChannelMajor(map[int]candidateValues{
		123: {0.5, 0.4, 0.2, 0.1, -9.0, 8.0},
	})

	dets, err := DecodeTensor(raw, now)
	require.NoError(t, err)
	require.Len(t, dets, NumCandidates)

	got := dets[123]
	assert.InDelta(t, 0.5, got.Box.X, 1e-4)
	assert.InDelta(t, 0.4, got.Box.Y, 1e-4)
	assert.InDelta(t, 0.2, got.Box.W, 1e-4)
	assert.InDelta(t, 0.1, got.Box.H, 1e-4)
	assert.Equal(t, "crack", got.Label)
	assert.InDelta(t, 1.0/(1.0+math.Exp(-8.0)), float64(got.Confidence), 1e-4)
	assert.Equal(t, now, got.ObservedAt)

	// Untouched slots decode as sigmoid(0)=0.5 zero-size boxes.
	assert.InDelta(t, 0.5, dets[0].Confidence, 1e-6)
	assert.Zero(t, dets[0].Box.W)
}

// TestDecodeLayoutEquivalence tests that the same logical data decodes
// identically from both physical layouts.
func TestDecodeLayoutEquivalence(t *testing.T) {
	t.Parallel()

	vals := map[int]candidateValues{
		0:    {0.1, 0.2, 0.05, 0.05, 2.0, -2.0},
		123:  {0.5, 0.4, 0.2, 0.1, -9.0, 8.0},
		8399: {0.9, 0.9, 0.1, 0.3, 0.25, 0.5},
	}
	now := time.Now()

	fromChannel, err := DecodeTensor(buildChannelMajor(vals), now)
	require.NoError(t, err)
	fromCandidate, err := DecodeTensor(buildCandidateMajor(vals), now)
	require.NoError(t, err)

	if diff := cmp.Diff(fromChannel, fromCandidate); diff != "" {
		t.Errorf("layouts decoded differently (-channel +candidate):\n%s", diff)
	}
}

// TestDecodeShapeResolution tests outer-dimension unwrapping and rejection of
// unrecognized shapes.
func TestDecodeShapeResolution(t *testing.T) {
	t.Parallel()

	t.Run("extra length-1 outer dims unwrap", func(t *testing.T) {
		raw := buildChannelMajor(nil)
		raw.Shape = []int64{1, 1, ValuesPerCandidate, NumCandidates}
		dets, err := DecodeTensor(raw, time.Now())
		require.NoError(t, err)
		assert.Len(t, dets, NumCandidates)
	})

	t.Run("bare two-dim shape resolves", func(t *testing.T) {
		raw := buildChannelMajor(nil)
		raw.Shape = []int64{ValuesPerCandidate, NumCandidates}
		_, err := DecodeTensor(raw, time.Now())
		assert.NoError(t, err)
	})

	t.Run("unrecognized shape fails the frame", func(t *testing.T) {
		_, err := DecodeTensor(&models.RawTensor{
			Data:  make([]float32, 63),
			Shape: []int64{7, 9},
		}, time.Now())
		assert.Error(t, err)
	})

	t.Run("non-unit outer dim fails", func(t *testing.T) {
		raw := buildChannelMajor(nil)
		raw.Shape = []int64{2, ValuesPerCandidate, NumCandidates}
		_, err := DecodeTensor(raw, time.Now())
		assert.Error(t, err)
	})
}

// TestDecodePixelScaleHeuristic tests that boxes above 1.5 are treated as
// pixel-scale and divided by the input edge.
func TestDecodePixelScaleHeuristic(t *testing.T) {
	t.Parallel()

	raw := buildChannelMajor(map[int]candidateValues{
		7: {320, 256, 64, 32, 5.0, -5.0},
	})
	dets, err := DecodeTensor(raw, time.Now())
	require.NoError(t, err)

	got := dets[7]
	assert.InDelta(t, 0.5, got.Box.X, 1e-4)
	assert.InDelta(t, 0.4, got.Box.Y, 1e-4)
	assert.InDelta(t, 0.1, got.Box.W, 1e-4)
	assert.InDelta(t, 0.05, got.Box.H, 1e-4)
	assert.Equal(t, "pothole", got.Label)
}

// TestDecodeMalformedCandidates tests that a short buffer skips only the
// candidates it cannot serve.
func TestDecodeMalformedCandidates(t *testing.T) {
	t.Parallel()

	// Candidate-major shape claiming the full candidate count but backed by
	// data for only 100 candidates.
	raw := &models.RawTensor{
		Data:  make([]float32, 100*ValuesPerCandidate),
		Shape: []int64{NumCandidates, ValuesPerCandidate},
	}
	dets, err := DecodeTensor(raw, time.Now())
	require.NoError(t, err)
	assert.Len(t, dets, 100)
}
