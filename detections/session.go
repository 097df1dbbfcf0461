package detections

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/pavescan/road-defect-service/models"
)

// ModelSession owns one ONNX runtime session with pre-bound input and output
// tensors; the runtime wants the shapes fixed at session creation.
type ModelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// ONNXEngine implements InferenceEngine on top of onnxruntime. The caller
// must have initialized the runtime environment before LoadModel.
type ONNXEngine struct {
	mu      sync.Mutex
	session *ModelSession
}

func NewONNXEngine() *ONNXEngine {
	return &ONNXEngine{}
}

// LoadModel creates a session for the model at path, replacing any session a
// previous load left behind.
func (e *ONNXEngine) LoadModel(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, InputSize, InputSize, 3)
	outputShape := ort.NewShape(1, ValuesPerCandidate, NumCandidates)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("create session: %w", err)
	}

	e.session = &ModelSession{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
	}
	return nil
}

// Run copies the input into the bound tensor, runs the session, and returns
// a copy of the output buffer. The copy matters: the bound output tensor is
// reused by the next Run.
func (e *ONNXEngine) Run(input []float32) (*models.RawTensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrModelNotReady
	}

	copy(e.session.input.GetData(), input)
	if err := e.session.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	src := e.session.output.GetData()
	data := make([]float32, len(src))
	copy(data, src)

	shape := e.session.output.GetShape()
	dims := make([]int64, len(shape))
	copy(dims, shape)

	return &models.RawTensor{Data: data, Shape: dims}, nil
}

// Destroy releases the active session, if any.
func (e *ONNXEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}
