package main

import (
	"fmt"
	"strings"

	"github.com/pavescan/road-defect-service/models"
)

const (
	MsgNoDefects = "No road surface defects detected in this frame."

	MsgFrameDropped = "Frame skipped: the detector is busy or throttled. Sustained skips under load are normal."
)

// defectSummary builds the operator-facing one-liner for a frame result.
func defectSummary(dets []models.Detection) string {
	if len(dets) == 0 {
		return MsgNoDefects
	}

	counts := make(map[string]int)
	var order []string
	for _, d := range dets {
		if counts[d.Label] == 0 {
			order = append(order, d.Label)
		}
		counts[d.Label]++
	}

	parts := make([]string, 0, len(order))
	for _, label := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[label], label))
	}
	return fmt.Sprintf("Detected %s. Flag this segment for inspection.", strings.Join(parts, ", "))
}
