package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavescan/road-defect-service/detections"
	"github.com/pavescan/road-defect-service/models"
)

// stubEngine satisfies detections.InferenceEngine with a canned tensor.
type stubEngine struct {
	tensor *models.RawTensor
}

func (s *stubEngine) LoadModel(string) error { return nil }

func (s *stubEngine) Run([]float32) (*models.RawTensor, error) {
	return s.tensor, nil
}

func (s *stubEngine) Destroy() {}

func emptyOutputTensor() *models.RawTensor {
	return &models.RawTensor{
		Data:  make([]float32, detections.ValuesPerCandidate*detections.NumCandidates),
		Shape: []int64{1, detections.ValuesPerCandidate, detections.NumCandidates},
	}
}

func newTestState(t *testing.T) *AppState {
	t.Helper()
	pipeline := detections.NewPipeline(&stubEngine{tensor: emptyOutputTensor()})
	require.NoError(t, pipeline.LoadModel("stub.onnx"))
	return &AppState{ModelPath: "stub.onnx", Pipeline: pipeline}
}

func pngFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestHandleSubmitFrame tests the frame endpoint for accepted, throttled and
// malformed submissions.
func TestHandleSubmitFrame(t *testing.T) {
	state := newTestState(t)

	t.Run("accepted frame returns detections payload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngFrame(t)))
		rec := httptest.NewRecorder()
		state.handleSubmitFrame(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp FrameResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Dropped)
		assert.Empty(t, resp.Detections)
		assert.Equal(t, MsgNoDefects, resp.Message)
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("immediate second frame is dropped, not errored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(pngFrame(t)))
		rec := httptest.NewRecorder()
		state.handleSubmitFrame(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp FrameResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Dropped)
		assert.Equal(t, MsgFrameDropped, resp.Message)
	})

	t.Run("undecodable body is a bad request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader([]byte("not an image")))
		rec := httptest.NewRecorder()
		state.handleSubmitFrame(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_frame", resp.Code)
	})
}

// TestHandleStatusAndMetrics tests the observability endpoints.
func TestHandleStatusAndMetrics(t *testing.T) {
	state := newTestState(t)

	t.Run("status reports governor state", func(t *testing.T) {
		rec := httptest.NewRecorder()
		state.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp["state"])
	})

	t.Run("metrics exposes governor counters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		state.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp, "accepted")
		assert.Contains(t, resp, "dropped_throttled")
		assert.Contains(t, resp, "state")
	})
}

// TestHandleReloadModel tests the retry affordance.
func TestHandleReloadModel(t *testing.T) {
	pipeline := detections.NewPipeline(&stubEngine{tensor: emptyOutputTensor()})
	state := &AppState{ModelPath: "stub.onnx", Pipeline: pipeline}

	rec := httptest.NewRecorder()
	state.handleReloadModel(rec, httptest.NewRequest(http.MethodPost, "/model/reload", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["state"])
}

// TestPlanarFrameFromRequest tests the raw camera path.
func TestPlanarFrameFromRequest(t *testing.T) {
	t.Parallel()

	body := make([]byte, 8*8+4*4*2) // luma plane plus half-res chroma
	req := httptest.NewRequest(http.MethodPost, "/frames?width=8&height=8", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")

	frame, err := frameFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 8, frame.Height)
	assert.Equal(t, models.LayoutLumaChroma, frame.Layout)
	assert.Len(t, frame.Data, len(body))
}

// TestDefectSummary tests the operator message lines.
func TestDefectSummary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MsgNoDefects, defectSummary(nil))

	dets := []models.Detection{
		{Label: "pothole"},
		{Label: "crack"},
		{Label: "pothole"},
	}
	assert.Equal(t, "Detected 2 pothole, 1 crack. Flag this segment for inspection.", defectSummary(dets))
}

// TestFrameFromImage tests decoding into the interleaved layout.
func TestFrameFromImage(t *testing.T) {
	t.Parallel()

	frame, err := frameFromImage(pngFrame(t))
	require.NoError(t, err)
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 8, frame.Height)
	assert.Equal(t, models.LayoutInterleaved, frame.Layout)
	require.Len(t, frame.Data, 8*8*3)
	assert.Equal(t, byte(90), frame.Data[0])
	assert.Equal(t, byte(90), frame.Data[1])
	assert.Equal(t, byte(90), frame.Data[2])
}
