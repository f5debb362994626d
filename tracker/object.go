package tracker

import "github.com/swdee/go-wagonocr/detect"

// Observation is one detected wagon in a frame together with the text read
// from it
type Observation struct {
	// Box is the detection bounding box in frame coordinates
	Box   detect.BBox
	Label detect.Label
	// Text is the cleaned reading, empty when nothing was read
	Text string
	// Confidence is the text reading confidence
	Confidence float64
	// DetectionID links the observation back to the detection it came from
	DetectionID int64
}

// NewObservation is a constructor function for the Observation struct
func NewObservation(det detect.Detection, text string, conf float64) Observation {
	return Observation{
		Box:         det.Box,
		Label:       det.Label,
		Text:        text,
		Confidence:  conf,
		DetectionID: det.ID,
	}
}
