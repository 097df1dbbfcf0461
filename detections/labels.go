package detections

// classLabels is the closed index→name table the model was trained against.
// The order must match the exported model's class axis.
var classLabels = [ClassCount]string{
	"pothole",
	"crack",
}

// LabelFor maps a class index to its name. Out-of-range indices map to
// "unknown" rather than failing; they can only come from a corrupt tensor.
func LabelFor(idx int) string {
	if idx < 0 || idx >= ClassCount {
		return "unknown"
	}
	return classLabels[idx]
}
