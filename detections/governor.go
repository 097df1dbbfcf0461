package detections

import (
	"errors"
	"sync"
	"time"
)

// PipelineState is the governor's position in the model lifecycle.
type PipelineState int

const (
	StateUninitialized PipelineState = iota
	StateModelLoading
	StateReady
	StateProcessing
	StateError
	StateDisposed
)

func (s PipelineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModelLoading:
		return "model_loading"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

var (
	ErrDisposed      = errors.New("pipeline is disposed")
	ErrInvalidState  = errors.New("operation not valid in current state")
	ErrModelNotReady = errors.New("model is not loaded")
)

// GovernorMetrics is a snapshot of the governor's counters.
type GovernorMetrics struct {
	Accepted         uint64
	DroppedBusy      uint64
	DroppedThrottled uint64
	FrameFailures    uint64
	LastLatency      time.Duration
}

// Governor serializes access to the loaded model. The model is a single
// mutable exclusive resource: at most one frame is in flight, and late
// frames are dropped rather than queued — a stale frame has no value.
type Governor struct {
	mu           sync.Mutex
	state        PipelineState
	lastAccepted time.Time
	minInterval  time.Duration
	metrics      GovernorMetrics

	now func() time.Time // injectable for tests
}

func NewGovernor() *Governor {
	return &Governor{
		state:       StateUninitialized,
		minInterval: MinSubmitInterval,
		now:         time.Now,
	}
}

// BeginLoad moves into ModelLoading. Valid from Uninitialized and from Error,
// which is how a failed load is retried.
func (g *Governor) BeginLoad() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateUninitialized, StateError:
		g.state = StateModelLoading
		return nil
	case StateDisposed:
		return ErrDisposed
	default:
		return ErrInvalidState
	}
}

// FinishLoad resolves a pending load: Ready on success, Error on failure.
func (g *Governor) FinishLoad(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateModelLoading {
		return
	}
	if err != nil {
		g.state = StateError
		return
	}
	g.state = StateReady
}

// TryAcquire attempts to admit one frame. It succeeds only in Ready and only
// when the minimum inter-frame interval has elapsed since the last accepted
// call; every rejection is silent and counted, never an error.
func (g *Governor) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < g.minInterval {
		g.metrics.DroppedThrottled++
		return false
	}
	if g.state == StateProcessing {
		g.metrics.DroppedBusy++
		return false
	}
	if g.state != StateReady {
		return false
	}

	g.state = StateProcessing
	g.lastAccepted = now
	g.metrics.Accepted++
	return true
}

// Complete returns the governor to Ready after an in-flight frame finishes,
// successfully or not, and records the measured latency. Failures here are
// frame-local; only Fail escalates.
func (g *Governor) Complete(latency time.Duration, failed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateProcessing {
		return
	}
	g.state = StateReady
	g.metrics.LastLatency = latency
	if failed {
		g.metrics.FrameFailures++
	}
}

// Dispose is terminal from any state.
func (g *Governor) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateDisposed
}

func (g *Governor) State() PipelineState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Governor) Metrics() GovernorMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metrics
}
