package detections

import "time"

const (
	// InputSize is the model input edge; input tensors are InputSize ×
	// InputSize × 3.
	InputSize = 640

	// ClassCount and NumCandidates are fixed by the exported model.
	ClassCount         = 2
	NumCandidates      = 8400
	ValuesPerCandidate = 4 + ClassCount

	ConfThreshold        = 0.55
	GlobalIoUThreshold   = 0.45
	PerClassIoUThreshold = 0.25
	MaxResults           = 3

	// MinSubmitInterval throttles frame submission independent of whether a
	// call is already in flight.
	MinSubmitInterval = 200 * time.Millisecond
)

// Geometry plausibility thresholds, all in normalized box units.
const (
	MinBoxDimension = 0.03
	MaxBoxDimension = 0.9
	MinBoxArea      = 0.01
	MaxBoxArea      = 0.12
	MinAspectRatio  = 0.25
	MaxAspectRatio  = 4.0
)
