package detections

import (
	"context"
	"fmt"
	"time"

	"github.com/pavescan/road-defect-service/models"
)

// InferenceEngine is the externally supplied model runtime. LoadModel binds
// the fixed input/output shapes, Run is a synchronous single-call transform,
// and Destroy releases the runtime. The pipeline never calls Run concurrently.
type InferenceEngine interface {
	LoadModel(path string) error
	Run(input []float32) (*models.RawTensor, error)
	Destroy()
}

// PipelineError wraps a stage failure with the stage it came from.
type PipelineError struct {
	Stage string
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return e.Stage
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Pipeline composes preprocessing, inference, decoding, filtering and
// suppression into one unit of work per frame, guarded by the governor.
type Pipeline struct {
	engine InferenceEngine
	pre    *Preprocessor
	gov    *Governor

	scoreFilter Postprocessor
	geomFilter  Postprocessor
}

func NewPipeline(engine InferenceEngine) *Pipeline {
	return &Pipeline{
		engine:      engine,
		pre:         NewPreprocessor(),
		gov:         NewGovernor(),
		scoreFilter: NewScoreFilter(ConfThreshold),
		geomFilter:  NewGeometryFilter(),
	}
}

// LoadModel loads or reloads the model. A failed load leaves the pipeline in
// the Error state, from which LoadModel may be called again.
func (p *Pipeline) LoadModel(path string) error {
	if err := p.gov.BeginLoad(); err != nil {
		return err
	}
	err := p.engine.LoadModel(path)
	p.gov.FinishLoad(err)
	if err != nil {
		return &PipelineError{Stage: "load model", Cause: err}
	}
	return nil
}

// SubmitFrame runs one frame through the pipeline. The boolean reports
// whether the frame was admitted; a dropped frame is not an error. Faults in
// an admitted frame stay local to it: the detection list comes back empty,
// the error describes the fault, and the pipeline is Ready again.
func (p *Pipeline) SubmitFrame(ctx context.Context, frame *models.FrameBuffer, timings *models.ProcessingTimings) ([]models.Detection, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !p.gov.TryAcquire() {
		return nil, false, nil
	}

	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	start := time.Now()
	dets, err := p.processFrame(frame, timings)
	p.gov.Complete(time.Since(start), err != nil)
	if err != nil {
		return []models.Detection{}, true, err
	}
	return dets, true, nil
}

func (p *Pipeline) processFrame(frame *models.FrameBuffer, timings *models.ProcessingTimings) ([]models.Detection, error) {
	prepStart := time.Now()
	input, err := p.pre.Process(frame)
	timings.Preprocess = time.Since(prepStart)
	if err != nil {
		return nil, &PipelineError{Stage: "preprocess frame", Cause: err}
	}

	inferStart := time.Now()
	raw, err := p.engine.Run(input)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, &PipelineError{Stage: "model inference", Cause: err}
	}

	decodeStart := time.Now()
	candidates, err := DecodeTensor(raw, time.Now())
	timings.Decode = time.Since(decodeStart)
	if err != nil {
		return nil, &PipelineError{Stage: "decode output", Cause: err}
	}

	postStart := time.Now()
	dets := ClassAwareNMS(p.geomFilter(p.scoreFilter(candidates)))
	timings.Postprocess = time.Since(postStart)

	return dets, nil
}

// Dispose tears the pipeline down and releases the engine. Terminal.
func (p *Pipeline) Dispose() {
	p.gov.Dispose()
	p.engine.Destroy()
}

func (p *Pipeline) State() PipelineState { return p.gov.State() }

func (p *Pipeline) Metrics() GovernorMetrics { return p.gov.Metrics() }
