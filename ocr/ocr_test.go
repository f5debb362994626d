package ocr

import (
	"errors"
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

func TestCleanText(t *testing.T) {

	tests := []struct {
		in     string
		expect string
	}{
		{"ab-12 34", "AB1234"},
		{" 5410 7823.", "54107823"},
		{"!!", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, CleanText(tc.in), tc.in)
	}

	assert.Equal(t, "AB12", FilterAllowed("aAB-12", DefaultAllow))
	assert.Equal(t, "aAB-12", FilterAllowed("aAB-12", ""))
}

func TestQualifies(t *testing.T) {

	cfg := DefaultReaderConfig()

	tests := []struct {
		text   string
		conf   float64
		expect bool
	}{
		{"AB123", 0.5, true},
		{"A123", 0.5, true},
		{"AB12", 0.9, false},
		{"123", 0.9, false},
		{"ABCD123", 0.1, false},
		{"ABCD123", 0.11, true},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, cfg.Qualifies(tc.text, tc.conf), tc.text)
	}
}

func TestSelectPrefersLongerReading(t *testing.T) {

	cfg := DefaultReaderConfig()
	cfg.MinDigits = 2

	best := cfg.Select(Reading{}, VariantPlain, []TextResult{
		{Text: "AB12", Confidence: 0.9},
		{Text: "AB123456", Confidence: 0.5},
	})

	assert.Equal(t, "AB123456", best.Text)
	assert.Equal(t, 0.5, best.Confidence)
	assert.InDelta(t, 4.0, best.Score(), 1e-9)

	// equal scores keep the earlier candidate
	best = cfg.Select(Reading{}, VariantPlain, []TextResult{
		{Text: "1234", Confidence: 0.5},
		{Text: "12", Confidence: 0.9},
		{Text: "5678", Confidence: 0.5},
	})

	assert.Equal(t, "1234", best.Text)

	best = cfg.Select(Reading{}, VariantPlain, []TextResult{{Text: "AB", Confidence: 1}})
	assert.Empty(t, best.Text)
}

func TestCTCDecode(t *testing.T) {

	d := NewCTCDecoder([]string{"blank", "A", "B", "1"})

	probs := []float32{
		0.1, 0.7, 0.1, 0.1,
		0.1, 0.6, 0.2, 0.1,
		0.9, 0.05, 0.03, 0.02,
		0.1, 0.8, 0.05, 0.05,
		0.1, 0.1, 0.5, 0.3,
	}

	text, score, err := d.Decode(probs, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, "AAB", text)
	assert.InDelta(t, 2.0/3.0, score, 1e-5)

	d.Allow("B1")

	text, score, err = d.Decode(probs, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, "BB", text)
	assert.InDelta(t, 0.35, score, 1e-5)

	d.Allow("")

	text, _, err = d.Decode(probs, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, "AAB", text)

	_, _, err = d.Decode(probs, 4, 5)
	assert.Error(t, err)

	_, _, err = d.Decode(probs[:8], 5, 4)
	assert.Error(t, err)
}

func TestPadRegion(t *testing.T) {

	tests := []struct {
		name   string
		box    detect.BBox
		ratio  float64
		expect image.Rectangle
	}{
		{"centre", detect.BBox{X1: 10, Y1: 10, X2: 50, Y2: 30}, 0.1, image.Rect(6, 8, 54, 32)},
		{"top left", detect.BBox{X1: 0, Y1: 0, X2: 20, Y2: 20}, 0.1, image.Rect(0, 0, 22, 22)},
		{"bottom right", detect.BBox{X1: 90, Y1: 70, X2: 100, Y2: 80}, 0.1, image.Rect(89, 69, 100, 80)},
		{"truncated", detect.BBox{X1: 10, Y1: 10, X2: 55, Y2: 25}, 0.1, image.Rect(6, 9, 59, 26)},
		{"no padding", detect.BBox{X1: 10, Y1: 10, X2: 50, Y2: 30}, 0, image.Rect(10, 10, 50, 30)},
	}

	for _, tc := range tests {
		r, err := PadRegion(tc.box, tc.ratio, 100, 80)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.expect, r, tc.name)
	}

	_, err := PadRegion(detect.BBox{X1: 200, Y1: 200, X2: 210, Y2: 210}, 0.1, 100, 80)
	assert.ErrorIs(t, err, ErrEmptyCrop)

	_, err = PadRegion(detect.BBox{X1: 5, Y1: 5, X2: 5, Y2: 5}, 0.1, 100, 80)
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

func TestCropRegion(t *testing.T) {

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 100, 150, 0), 80, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	crop, rect, err := CropRegion(frame, detect.BBox{X1: 10, Y1: 10, X2: 50, Y2: 30}, 0.1)
	require.NoError(t, err)
	defer crop.Close()

	assert.Equal(t, image.Rect(6, 8, 54, 32), rect)
	assert.Equal(t, 48, crop.Cols())
	assert.Equal(t, 24, crop.Rows())
	assert.Equal(t, uint8(100), crop.GetVecbAt(0, 0)[1])
}

// stubRestorer returns a copy of its input or a fixed error
type stubRestorer struct {
	err   error
	calls int
}

func (s *stubRestorer) Restore(mat gocv.Mat) (gocv.Mat, error) {

	s.calls++

	if s.err != nil {
		return gocv.NewMat(), s.err
	}

	return mat.Clone(), nil
}

func testCrop() gocv.Mat {

	crop := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(120, 120, 120, 0), 20, 40, gocv.MatTypeCV8UC3)

	for x := 10; x < 30; x++ {
		for y := 5; y < 15; y++ {
			crop.SetUCharAt(y, x*3, 20)
			crop.SetUCharAt(y, x*3+1, 20)
			crop.SetUCharAt(y, x*3+2, 20)
		}
	}

	return crop
}

func TestVariants(t *testing.T) {

	crop := testCrop()
	defer crop.Close()

	for _, restorer := range []*stubRestorer{{}, {err: errors.New("boom")}} {
		vs, err := Variants(crop, restorer, zerolog.Nop())
		require.NoError(t, err)

		require.Len(t, vs, len(VariantNames))
		assert.Equal(t, 1, restorer.calls)

		for i, v := range vs {
			assert.Equal(t, VariantNames[i], v.Name)
			assert.Equal(t, 80, v.Mat.Cols(), v.Name)
			assert.Equal(t, 40, v.Mat.Rows(), v.Name)

			if v.Name == VariantRestored {
				assert.Equal(t, 3, v.Mat.Channels())
			} else {
				assert.Equal(t, 1, v.Mat.Channels(), v.Name)
			}
		}

		CloseVariants(vs)
	}

	empty := gocv.NewMat()
	defer empty.Close()

	_, err := Variants(empty, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

// scriptedReader returns results in call order and records the variant
// sizes it was given
type scriptedReader struct {
	results [][]TextResult
	errs    []error
	allow   []string
	calls   int
}

func (s *scriptedReader) Read(img gocv.Mat, allow string) ([]TextResult, error) {

	i := s.calls
	s.calls++
	s.allow = append(s.allow, allow)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}

	if i < len(s.results) {
		return s.results[i], nil
	}

	return nil, nil
}

func TestCropReaderRead(t *testing.T) {

	crop := testCrop()
	defer crop.Close()

	tr := &scriptedReader{
		results: [][]TextResult{
			{{Text: "ab12", Confidence: 0.9}},
			{{Text: "AB1234", Confidence: 0.6}},
			{{Text: "AB123456", Confidence: 0.95}},
			{{Text: "XY-987654", Confidence: 0.4}},
			nil,
			{{Text: "XY9876543", Confidence: 0.05}},
		},
		errs: []error{nil, nil, errors.New("reader failure")},
	}

	logger := zerolog.Nop()
	r := NewCropReader(tr, nil, DefaultReaderConfig(), &logger)

	reading, err := r.Read(crop)
	require.NoError(t, err)

	assert.Equal(t, len(VariantNames), tr.calls)
	assert.Equal(t, "AB1234", reading.Text)
	assert.Equal(t, 0.6, reading.Confidence)
	assert.Equal(t, VariantCLAHE, reading.Variant)

	for _, a := range tr.allow {
		assert.Equal(t, DefaultAllow, a)
	}
}

func TestCropReaderNoCandidate(t *testing.T) {

	frame := testCrop()
	defer frame.Close()

	tr := &scriptedReader{results: [][]TextResult{{{Text: "AB", Confidence: 0.99}}}}

	logger := zerolog.Nop()
	r := NewCropReader(tr, &stubRestorer{}, DefaultReaderConfig(), &logger)

	reading, err := r.ReadRegion(frame, detect.BBox{X1: 5, Y1: 2, X2: 35, Y2: 18})
	require.NoError(t, err)
	assert.Empty(t, reading.Text)
	assert.Zero(t, reading.Confidence)

	_, err = r.ReadRegion(frame, detect.BBox{X1: 100, Y1: 100, X2: 120, Y2: 120})
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

func TestNewCRNNValidation(t *testing.T) {

	_, err := NewCRNN("missing.onnx", DefaultCRNNParams([]string{"blank"}))
	assert.Error(t, err)

	_, err = NewCRNN("missing.onnx", DefaultCRNNParams([]string{"blank", "A"}))
	assert.Error(t, err)
}
