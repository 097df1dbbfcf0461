package detections

import "github.com/pavescan/road-defect-service/models"

// Postprocessor filters or rewrites an incoming batch of detections.
type Postprocessor func([]models.Detection) []models.Detection

// PlausibleGeometry reports whether a box shape could belong to a real
// surface defect. Pure predicate over geometry; confidence plays no part.
func PlausibleGeometry(box models.BoundingBox) bool {
	if box.W < MinBoxDimension || box.H < MinBoxDimension {
		return false
	}
	if box.W > MaxBoxDimension || box.H > MaxBoxDimension {
		return false
	}
	area := box.Area()
	if area < MinBoxArea || area > MaxBoxArea {
		return false
	}
	aspect := box.W / box.H
	return aspect >= MinAspectRatio && aspect <= MaxAspectRatio
}

// NewGeometryFilter returns a postprocessor dropping implausible boxes.
func NewGeometryFilter() Postprocessor {
	return func(in []models.Detection) []models.Detection {
		out := make([]models.Detection, 0, len(in))
		for _, d := range in {
			if PlausibleGeometry(d.Box) {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewScoreFilter returns a postprocessor dropping detections below conf.
func NewScoreFilter(conf float32) Postprocessor {
	return func(in []models.Detection) []models.Detection {
		out := make([]models.Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}
