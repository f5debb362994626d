package tracker

import "github.com/swdee/go-wagonocr/detect"

// DetectionsToObservations converts detections without readings into tracker
// observations
func DetectionsToObservations(dets []detect.Detection) []Observation {

	objs := make([]Observation, 0, len(dets))

	for _, det := range dets {
		objs = append(objs, NewObservation(det, "", 0))
	}

	return objs
}
