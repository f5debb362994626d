package detect

import (
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestIoU(t *testing.T) {

	tests := []struct {
		name   string
		a, b   BBox
		expect float64
	}{
		{"partial", BBox{0, 0, 10, 10}, BBox{5, 5, 15, 15}, 25.0 / 175.0},
		{"identical", BBox{0, 0, 10, 10}, BBox{0, 0, 10, 10}, 1},
		{"disjoint", BBox{0, 0, 10, 10}, BBox{100, 100, 110, 110}, 0},
		{"touching", BBox{0, 0, 10, 10}, BBox{10, 0, 20, 10}, 0},
		{"contained", BBox{0, 0, 10, 10}, BBox{2, 2, 7, 7}, 25.0 / 100.0},
		{"degenerate", BBox{5, 5, 5, 5}, BBox{5, 5, 5, 5}, 0},
		{"shifted", BBox{0, 0, 10, 10}, BBox{1, 1, 11, 11}, 81.0 / 119.0},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, tc.a.IoU(tc.b), tc.name)
		assert.Equal(t, tc.expect, tc.b.IoU(tc.a), tc.name)
	}
}

func TestBBoxGeometry(t *testing.T) {

	b := BBox{X1: -5, Y1: 2.5, X2: 30.2, Y2: 12}

	assert.Equal(t, BBox{X1: 0, Y1: 2.5, X2: 20, Y2: 12}, b.Clip(20, 40))
	assert.Equal(t, image.Rect(-5, 2, 31, 12), b.Rect())

	cx, cy := BBox{0, 0, 10, 4}.Center()
	assert.Equal(t, 5.0, cx)
	assert.Equal(t, 2.0, cy)

	assert.Zero(t, BBox{X1: 5, X2: 1, Y1: 0, Y2: 3}.Area())
	assert.Equal(t, BBox{1, 2, 3, 4}, BoxFromRect(image.Rect(1, 2, 3, 4)))
}

func TestLabels(t *testing.T) {

	assert.Equal(t, Train, LabelFromCOCO(6))
	assert.Equal(t, Truck, LabelFromCOCO(7))
	assert.Equal(t, Other, LabelFromCOCO(0))
	assert.Equal(t, "bus", Bus.String())

	l, err := ParseLabel(" Train ")
	require.NoError(t, err)
	assert.Equal(t, Train, l)

	_, err = ParseLabel("boat")
	assert.Error(t, err)
}

// stubDetector returns fixed detections
type stubDetector struct {
	dets []Detection
	err  error
}

func (s *stubDetector) Detect(img gocv.Mat, conf float32) ([]Detection, error) {
	return append([]Detection(nil), s.dets...), s.err
}

func TestLabelerFromNames(t *testing.T) {

	labeler := LabelerFromNames([]string{"wagon", "Train", " car ", "truck"})

	tests := []struct {
		id     int
		expect Label
	}{
		{0, Other},
		{1, Train},
		{2, Car},
		{3, Truck},
		{4, Other},
		{-1, Other},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, labeler(tc.id), "class %d", tc.id)
	}

	assert.Equal(t, Other, LabelerFromNames(nil)(0))
}

func TestVehicleFilter(t *testing.T) {

	stub := &stubDetector{dets: []Detection{
		{Label: Train, Confidence: 0.9},
		{Label: Other, Confidence: 0.8},
		{Label: Bus, Confidence: 0.7},
		{Label: Car, Confidence: 0.6},
	}}

	img := gocv.NewMat()
	defer img.Close()

	f := NewVehicleFilter(stub)
	dets, err := f.Detect(img, 0.25)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, Train, dets[0].Label)
	assert.Equal(t, Car, dets[1].Label)

	f = NewVehicleFilter(stub, Bus)
	dets, err = f.Detect(img, 0.25)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.True(t, f.Allowed(Bus))
	assert.False(t, f.Allowed(Train))

	stub.err = errors.New("boom")
	_, err = f.Detect(img, 0.25)
	assert.Error(t, err)
}

func TestNMS(t *testing.T) {

	cands := []candidate{
		{box: BBox{0, 0, 10, 10}, class: 6, score: 0.6},
		{box: BBox{1, 1, 11, 11}, class: 6, score: 0.9},
		{box: BBox{1, 1, 11, 11}, class: 7, score: 0.5},
		{box: BBox{50, 50, 60, 60}, class: 6, score: 0.4},
	}

	kept := nms(cands, 0.45, 0)
	require.Len(t, kept, 3)

	assert.Equal(t, float32(0.9), kept[0].score)
	assert.Equal(t, 7, kept[1].class)
	assert.Equal(t, float32(0.4), kept[2].score)

	assert.Len(t, nms(cands, 0.45, 2), 2)
	assert.Empty(t, nms(nil, 0.45, 0))
}

func TestDecodeYOLOv8(t *testing.T) {

	// two classes, three anchors laid out as rows cx, cy, w, h, c0, c1
	data := []float32{
		100, 200, 300,
		50, 60, 70,
		20, 10, 40,
		10, 20, 30,
		0.1, 0.8, 0.2,
		0.7, 0.05, 0.1,
	}

	cands := decodeYOLOv8(data, 2, 3, 0.25)
	require.Len(t, cands, 2)

	assert.Equal(t, 1, cands[0].class)
	assert.Equal(t, float32(0.7), cands[0].score)
	assert.Equal(t, BBox{90, 45, 110, 55}, cands[0].box)

	assert.Equal(t, 0, cands[1].class)
	assert.Equal(t, BBox{195, 50, 205, 70}, cands[1].box)
}

func TestNewYOLOv8MissingModel(t *testing.T) {

	_, err := NewYOLOv8(filepath.Join(t.TempDir(), "missing.onnx"), YOLOv8COCOParams())
	assert.Error(t, err)
}

func TestNextID(t *testing.T) {

	y := &YOLOv8{}
	assert.Equal(t, int64(1), y.nextID())
	assert.Equal(t, int64(2), y.nextID())

	const workers, per = 8, 50
	ids := make(chan int64, workers*per)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				ids <- y.nextID()
			}
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)

	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	assert.Len(t, seen, workers*per)
	assert.Equal(t, int64(workers*per+3), y.nextID())
}
