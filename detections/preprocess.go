package detections

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/pavescan/road-defect-service/models"
)

// fixedPointShift is the fractional bit count of the resize scale factor.
const fixedPointShift = 16

var (
	ErrBadDimensions = errors.New("frame dimensions must be positive")
	ErrShortBuffer   = errors.New("frame buffer shorter than dimensions imply")
)

// Preprocessor converts a raw FrameBuffer into the model input tensor:
// row-major InputSize×InputSize×3 float32 in [0,1], channel order R,G,B.
//
// The output buffer is allocated once and reused across calls, which is safe
// only while the governor guarantees a single in-flight frame.
type Preprocessor struct {
	size       int
	numWorkers int
	out        []float32
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		size:       InputSize,
		numWorkers: preprocessWorkers(),
		out:        make([]float32, InputSize*InputSize*3),
	}
}

// preprocessWorkers picks the row fan-out width. On AVX2-capable cores the
// conversion is memory-bound and saturates at half the cores; elsewhere every
// core helps.
func preprocessWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if runtime.GOARCH == "amd64" && cpu.X86.HasAVX2 && n > 2 {
		n /= 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Process resizes and converts one frame. The returned slice aliases the
// preprocessor's internal buffer and is valid until the next Process call.
func (p *Preprocessor) Process(frame *models.FrameBuffer) ([]float32, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, ErrBadDimensions
	}

	lumaSize := frame.Width * frame.Height
	switch frame.Layout {
	case models.LayoutLumaChroma:
		if len(frame.Data) < lumaSize {
			return nil, fmt.Errorf("%w: luma plane needs %d bytes, have %d",
				ErrShortBuffer, lumaSize, len(frame.Data))
		}
	case models.LayoutInterleaved:
		if len(frame.Data) < lumaSize*3 {
			return nil, fmt.Errorf("%w: interleaved frame needs %d bytes, have %d",
				ErrShortBuffer, lumaSize*3, len(frame.Data))
		}
	default:
		return nil, fmt.Errorf("unknown frame layout %d", frame.Layout)
	}

	// 16.16 fixed-point nearest-neighbor scale. Deliberately not averaging:
	// the accuracy cost is acceptable for the throughput it buys on-device.
	scaleX := (frame.Width << fixedPointShift) / p.size
	scaleY := (frame.Height << fixedPointShift) / p.size

	p.forEachRowBand(func(startRow, endRow int) {
		switch frame.Layout {
		case models.LayoutLumaChroma:
			p.convertLumaRows(frame, scaleX, scaleY, startRow, endRow)
		case models.LayoutInterleaved:
			p.convertInterleavedRows(frame, scaleX, scaleY, startRow, endRow)
		}
	})

	return p.out, nil
}

// forEachRowBand splits destination rows across the worker count. Bands are
// disjoint, so the workers share nothing but the frame they read.
func (p *Preprocessor) forEachRowBand(convert func(startRow, endRow int)) {
	if p.numWorkers == 1 {
		convert(0, p.size)
		return
	}

	rowsPerWorker := p.size / p.numWorkers
	var wg sync.WaitGroup
	wg.Add(p.numWorkers)
	for w := 0; w < p.numWorkers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if w == p.numWorkers-1 {
			end = p.size
		}
		go func(start, end int) {
			defer wg.Done()
			convert(start, end)
		}(start, end)
	}
	wg.Wait()
}

// convertLumaRows handles the planar luma+chroma layout. Colorspace
// conversion uses BT.601 integer multiply-shift; no per-pixel float division.
// A frame carrying only a luma plane converts as grayscale (neutral chroma).
func (p *Preprocessor) convertLumaRows(frame *models.FrameBuffer, scaleX, scaleY, startRow, endRow int) {
	w := frame.Width
	chromaW := (w + 1) / 2
	chromaH := (frame.Height + 1) / 2
	chromaOffset := w * frame.Height
	hasChroma := len(frame.Data) >= chromaOffset+chromaW*chromaH*2

	for y := startRow; y < endRow; y++ {
		srcY := (y * scaleY) >> fixedPointShift
		dst := y * p.size * 3
		for x := 0; x < p.size; x++ {
			srcX := (x * scaleX) >> fixedPointShift

			luma := int(frame.Data[srcY*w+srcX])
			cb, cr := 128, 128
			if hasChroma {
				ci := chromaOffset + (srcY/2)*chromaW*2 + (srcX/2)*2
				cb = int(frame.Data[ci])
				cr = int(frame.Data[ci+1])
			}

			c := 298 * (luma - 16)
			r := (c + 409*(cr-128) + 128) >> 8
			g := (c - 100*(cb-128) - 208*(cr-128) + 128) >> 8
			b := (c + 516*(cb-128) + 128) >> 8

			i := dst + x*3
			p.out[i] = float32(clampByte(r)) / 255.0
			p.out[i+1] = float32(clampByte(g)) / 255.0
			p.out[i+2] = float32(clampByte(b)) / 255.0
		}
	}
}

// convertInterleavedRows handles packed R,G,B bytes: resize only, no
// colorspace conversion.
func (p *Preprocessor) convertInterleavedRows(frame *models.FrameBuffer, scaleX, scaleY, startRow, endRow int) {
	w := frame.Width
	for y := startRow; y < endRow; y++ {
		srcY := (y * scaleY) >> fixedPointShift
		dst := y * p.size * 3
		for x := 0; x < p.size; x++ {
			srcX := (x * scaleX) >> fixedPointShift
			si := (srcY*w + srcX) * 3
			i := dst + x*3
			p.out[i] = float32(frame.Data[si]) / 255.0
			p.out[i+1] = float32(frame.Data[si+1]) / 255.0
			p.out[i+2] = float32(frame.Data[si+2]) / 255.0
		}
	}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
