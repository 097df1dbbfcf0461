package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/pavescan/road-defect-service/detections"
	"github.com/pavescan/road-defect-service/models"
)

type AppState struct {
	ModelPath string
	Pipeline  *detections.Pipeline
}

type DetectionJSON struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        [4]int32  `json:"box"` // pixel corners: x1,y1,x2,y2
	ObservedAt time.Time `json:"observed_at"`
}

type FrameResponse struct {
	RequestID  string          `json:"request_id"`
	Dropped    bool            `json:"dropped"`
	Message    string          `json:"message"`
	Detections []DetectionJSON `json:"detections"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *AppState) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	requestID := uuid.NewString()
	timings := &models.ProcessingTimings{RequestID: requestID}

	frame, err := frameFromRequest(r)
	if err != nil {
		sendErrorResponse(w, "invalid_frame", err.Error(), http.StatusBadRequest)
		return
	}

	dets, accepted, err := s.Pipeline.SubmitFrame(r.Context(), frame, timings)
	if !accepted {
		// Back-pressure by discard: not an error, a stale frame has no value.
		sendJSON(w, http.StatusOK, FrameResponse{
			RequestID:  requestID,
			Dropped:    true,
			Message:    MsgFrameDropped,
			Detections: []DetectionJSON{},
		})
		return
	}
	if err != nil {
		// Frame-local fault: empty result, pipeline already back in Ready.
		log.Printf("Frame %s failed: %v", requestID, err)
	}

	timings.Total = time.Since(startTotal)
	logTimings(timings)

	out := make([]DetectionJSON, 0, len(dets))
	for _, d := range dets {
		x1, y1, x2, y2 := d.Box.Corners(frame.Width, frame.Height)
		out = append(out, DetectionJSON{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        [4]int32{x1, y1, x2, y2},
			ObservedAt: d.ObservedAt,
		})
	}

	sendJSON(w, http.StatusOK, FrameResponse{
		RequestID:  requestID,
		Message:    defectSummary(dets),
		Detections: out,
	})
}

func (s *AppState) handleReloadModel(w http.ResponseWriter, _ *http.Request) {
	if err := s.Pipeline.LoadModel(s.ModelPath); err != nil {
		sendErrorResponse(w, "model_error", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"state": s.Pipeline.State().String()})
}

func (s *AppState) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"state": s.Pipeline.State().String()})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.Pipeline.Metrics()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":          m.Accepted,
		"dropped_busy":      m.DroppedBusy,
		"dropped_throttled": m.DroppedThrottled,
		"frame_failures":    m.FrameFailures,
		"last_latency_ms":   m.LastLatency.Milliseconds(),
		"state":             s.Pipeline.State().String(),
	})
}

// frameFromRequest builds a FrameBuffer from the request body. Planar camera
// frames arrive as application/octet-stream with width/height query
// parameters; anything else is treated as an encoded image.
func frameFromRequest(r *http.Request) (*models.FrameBuffer, error) {
	contentType := r.Header.Get("Content-Type")

	var imgBytes []byte
	var err error

	switch {
	case contentType == "application/octet-stream":
		return planarFrameFromRequest(r)
	case contentType == "application/json":
		imgBytes, err = decodeJSONBody(r)
	case contentType == "multipart/form-data":
		imgBytes, err = decodeMultipartBody(r)
	default:
		imgBytes, err = io.ReadAll(r.Body)
	}
	if err != nil {
		return nil, err
	}
	return frameFromImage(imgBytes)
}

func planarFrameFromRequest(r *http.Request) (*models.FrameBuffer, error) {
	width, err := strconv.Atoi(r.URL.Query().Get("width"))
	if err != nil {
		return nil, err
	}
	height, err := strconv.Atoi(r.URL.Query().Get("height"))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return &models.FrameBuffer{
		Width:  width,
		Height: height,
		Layout: models.LayoutLumaChroma,
		Data:   data,
	}, nil
}

func decodeJSONBody(r *http.Request) ([]byte, error) {
	var req struct {
		Frame string `json:"frame"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Frame)
}

func decodeMultipartBody(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// frameFromImage decodes an encoded image into an interleaved-RGB frame.
func frameFromImage(data []byte) (*models.FrameBuffer, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	nrgba := imaging.Clone(img)
	w := nrgba.Rect.Dx()
	h := nrgba.Rect.Dy()

	buf := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < w; x++ {
			si := x * 4
			di := (y*w + x) * 3
			buf[di] = src[si]
			buf[di+1] = src[si+1]
			buf[di+2] = src[si+2]
		}
	}

	return &models.FrameBuffer{
		Width:  w,
		Height: h,
		Layout: models.LayoutInterleaved,
		Data:   buf,
	}, nil
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
