package models

import "time"

// BoundingBox is a detection box in center form: center x/y plus width and
// height, each normalized to [0,1] of the source frame. Values are clamped at
// construction; a BoundingBox is never mutated after creation.
type BoundingBox struct {
	X float32 // center x
	Y float32 // center y
	W float32
	H float32
}

// NewBoundingBox clamps every field into [0,1].
func NewBoundingBox(x, y, w, h float32) BoundingBox {
	return BoundingBox{
		X: clamp01(x),
		Y: clamp01(y),
		W: clamp01(w),
		H: clamp01(h),
	}
}

// Corners converts the box to pixel-space corner form for an image of the
// given dimensions. Coordinates are rounded to the nearest pixel and clamped
// to the image bounds.
func (b BoundingBox) Corners(imgWidth, imgHeight int) (x1, y1, x2, y2 int32) {
	w := float32(imgWidth)
	h := float32(imgHeight)
	x1 = clampPixel((b.X-b.W/2)*w, imgWidth)
	y1 = clampPixel((b.Y-b.H/2)*h, imgHeight)
	x2 = clampPixel((b.X+b.W/2)*w, imgWidth)
	y2 = clampPixel((b.Y+b.H/2)*h, imgHeight)
	return x1, y1, x2, y2
}

// Area returns the normalized box area.
func (b BoundingBox) Area() float32 {
	return b.W * b.H
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPixel(v float32, limit int) int32 {
	p := int32(v + 0.5)
	if p < 0 {
		return 0
	}
	if p > int32(limit) {
		return int32(limit)
	}
	return p
}

// Detection is a single decoded model output. Instances are immutable;
// corrections produce new values rather than mutating existing ones.
type Detection struct {
	Label      string
	Confidence float32
	Box        BoundingBox
	ObservedAt time.Time
}

// RawTensor is one model output buffer together with its physical shape.
// The decoder consumes it once per frame; it is not retained.
type RawTensor struct {
	Data  []float32
	Shape []int64
}

// FrameLayout identifies the byte layout of a FrameBuffer.
type FrameLayout int

const (
	// LayoutLumaChroma is a planar luma plane followed by a half-resolution
	// interleaved Cb/Cr plane, the usual camera pipeline output.
	LayoutLumaChroma FrameLayout = iota
	// LayoutInterleaved is packed 3-channel R,G,B bytes.
	LayoutInterleaved
)

// FrameBuffer is one raw camera frame. The buffer is owned by a single
// processing cycle and must not be retained past it.
type FrameBuffer struct {
	Width  int
	Height int
	Layout FrameLayout
	Data   []byte
}

// ProcessingTimings collects per-stage durations for one frame.
type ProcessingTimings struct {
	RequestID   string
	Preprocess  time.Duration
	Inference   time.Duration
	Decode      time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
