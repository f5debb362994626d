// Package detect provides the object detector interface used to locate
// wagons in frames and a YOLOv8 ONNX implementation of it.
package detect

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// Label is the class of a detected object
type Label int

const (
	Other Label = iota
	Car
	Motorcycle
	Bus
	Train
	Truck
)

var labelNames = map[Label]string{
	Other:      "other",
	Car:        "car",
	Motorcycle: "motorcycle",
	Bus:        "bus",
	Train:      "train",
	Truck:      "truck",
}

// String returns the lower case label name
func (l Label) String() string {

	if s, ok := labelNames[l]; ok {
		return s
	}

	return fmt.Sprintf("label(%d)", int(l))
}

// ParseLabel returns the label for a name, case insensitive
func ParseLabel(name string) (Label, error) {

	name = strings.ToLower(strings.TrimSpace(name))

	for l, s := range labelNames {
		if s == name {
			return l, nil
		}
	}

	return Other, fmt.Errorf("unknown label %q", name)
}

// cocoLabels maps COCO class ids to vehicle labels
var cocoLabels = map[int]Label{
	2: Car,
	3: Motorcycle,
	5: Bus,
	6: Train,
	7: Truck,
}

// LabelFromCOCO maps a COCO class id to a label, anything that is not a
// vehicle is Other
func LabelFromCOCO(id int) Label {

	if l, ok := cocoLabels[id]; ok {
		return l
	}

	return Other
}

// LabelerFromNames maps the class ids of a model to labels by the class
// names it was trained with.  Names that are not a known label, and ids past
// the end of names, map to Other.
func LabelerFromNames(names []string) func(int) Label {

	labels := make([]Label, len(names))

	for i, name := range names {
		// unknown names stay Other
		labels[i], _ = ParseLabel(name)
	}

	return func(id int) Label {
		if id < 0 || id >= len(labels) {
			return Other
		}
		return labels[id]
	}
}

// Detection is one object found in a frame
type Detection struct {
	// ID is unique across all detections made by a detector instance
	ID         int64
	Label      Label
	Box        BBox
	Confidence float32
}

// Detector locates objects in an image.  Detections below the confidence
// threshold are dropped.
type Detector interface {
	Detect(img gocv.Mat, conf float32) ([]Detection, error)
}

// DefaultWagonLabels are the classes a railway wagon is commonly detected as
var DefaultWagonLabels = []Label{Train, Truck, Car}

// VehicleFilter wraps a Detector keeping only detections of allowed labels
type VehicleFilter struct {
	Detector Detector
	allowed  map[Label]bool
}

// NewVehicleFilter returns a filter passing the given labels, or
// DefaultWagonLabels when none are given
func NewVehicleFilter(d Detector, labels ...Label) *VehicleFilter {

	if len(labels) == 0 {
		labels = DefaultWagonLabels
	}

	f := &VehicleFilter{
		Detector: d,
		allowed:  make(map[Label]bool, len(labels)),
	}

	for _, l := range labels {
		f.allowed[l] = true
	}

	return f
}

// Allowed reports whether a label passes the filter
func (f *VehicleFilter) Allowed(l Label) bool {
	return f.allowed[l]
}

// Detect runs the wrapped detector and drops disallowed labels
func (f *VehicleFilter) Detect(img gocv.Mat, conf float32) ([]Detection, error) {

	dets, err := f.Detector.Detect(img, conf)

	if err != nil {
		return nil, err
	}

	kept := dets[:0]

	for _, d := range dets {
		if f.allowed[d.Label] {
			kept = append(kept, d)
		}
	}

	return kept, nil
}
