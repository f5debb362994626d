package detect

import (
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/preprocess"
)

// YOLOv8Params defines the post processing parameters of a YOLOv8 model
type YOLOv8Params struct {
	// InputWidth and InputHeight are the model input dimensions
	InputWidth  int
	InputHeight int
	// NMSThreshold is the maximum IoU allowed between two kept boxes of the
	// same class
	NMSThreshold float32
	// ClassNum is the number of classes the model was trained with
	ClassNum int
	// MaxObjects caps the number of detections returned per frame
	MaxObjects int
	// Labeler maps a model class id to a Label
	Labeler func(class int) Label
}

// YOLOv8COCOParams returns parameters for a 640x640 model trained on the 80
// class COCO dataset
func YOLOv8COCOParams() YOLOv8Params {
	return YOLOv8Params{
		InputWidth:   640,
		InputHeight:  640,
		NMSThreshold: 0.45,
		ClassNum:     80,
		MaxObjects:   64,
		Labeler:      LabelFromCOCO,
	}
}

// YOLOv8 runs a YOLOv8 ONNX export through the OpenCV DNN module.  The
// network is not safe for concurrent use so calls are serialised.
type YOLOv8 struct {
	Params YOLOv8Params
	net    gocv.Net
	lb     *preprocess.Letterbox
	// ids numbers detections from 1 across all frames
	ids atomic.Int64
	mu  sync.Mutex
}

// NewYOLOv8 loads the ONNX model at path
func NewYOLOv8(path string, p YOLOv8Params) (*YOLOv8, error) {

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error opening detector model: %w", err)
	}

	net := gocv.ReadNet(path, "")

	if net.Empty() {
		return nil, fmt.Errorf("error loading detector model %s", path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if p.Labeler == nil {
		p.Labeler = LabelFromCOCO
	}

	return &YOLOv8{
		Params: p,
		net:    net,
		lb:     preprocess.NewLetterbox(p.InputWidth, p.InputHeight),
	}, nil
}

// nextID returns the id of the next detection
func (y *YOLOv8) nextID() int64 {
	return y.ids.Add(1)
}

// Close releases the network
func (y *YOLOv8) Close() error {

	y.mu.Lock()
	defer y.mu.Unlock()

	y.lb.Close()

	return y.net.Close()
}

// Detect implements Detector
func (y *YOLOv8) Detect(img gocv.Mat, conf float32) ([]Detection, error) {

	if img.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	input := gocv.NewMat()
	defer input.Close()

	y.lb.Apply(img, &input, preprocess.LetterboxFill)

	blob := gocv.BlobFromImage(input, 1.0/255.0,
		image.Pt(y.Params.InputWidth, y.Params.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")

	out := y.net.Forward("")
	defer out.Close()

	dims := out.Size()

	if len(dims) != 3 || dims[1] != 4+y.Params.ClassNum {
		return nil, fmt.Errorf("unexpected detector output shape %v", dims)
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error reading detector output: %w", err)
	}

	cands := decodeYOLOv8(data, y.Params.ClassNum, dims[2], conf)
	kept := nms(cands, y.Params.NMSThreshold, y.Params.MaxObjects)

	dets := make([]Detection, 0, len(kept))

	for _, c := range kept {
		x1, y1 := y.lb.ToSource(float32(c.box.X1), float32(c.box.Y1))
		x2, y2 := y.lb.ToSource(float32(c.box.X2), float32(c.box.Y2))

		box := BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}

		if box.Area() == 0 {
			continue
		}

		dets = append(dets, Detection{
			ID:         y.nextID(),
			Label:      y.Params.Labeler(c.class),
			Box:        box,
			Confidence: c.score,
		})
	}

	return dets, nil
}

// decodeYOLOv8 reads the [1, 4+classes, anchors] output where the first four
// rows are box centre x, centre y, width and height followed by one score row
// per class.  Anchors whose best class score is below conf are dropped.
func decodeYOLOv8(data []float32, classes, anchors int, conf float32) []candidate {

	var cands []candidate

	for a := 0; a < anchors; a++ {
		best := -1
		bestScore := float32(0)

		for c := 0; c < classes; c++ {
			s := data[(4+c)*anchors+a]

			if s > bestScore {
				best = c
				bestScore = s
			}
		}

		if best < 0 || bestScore < conf {
			continue
		}

		cx := float64(data[a])
		cy := float64(data[anchors+a])
		w := float64(data[2*anchors+a])
		h := float64(data[3*anchors+a])

		cands = append(cands, candidate{
			box: BBox{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			},
			class: best,
			score: bestScore,
		})
	}

	return cands
}
