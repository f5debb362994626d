package metrics

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/tensor"
)

func uniformImage(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for i := range img.Pix {
		img.Pix[i] = v
	}

	return img
}

// checkerboard returns a BGR Mat of alternating black and white squares
func checkerboard(w, h, square int) gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/square+y/square)%2 == 0 {
				mat.SetUCharAt(y, x*3, 255)
				mat.SetUCharAt(y, x*3+1, 255)
				mat.SetUCharAt(y, x*3+2, 255)
			}
		}
	}

	return mat
}

func TestPSNRIdenticalIsSentinel(t *testing.T) {

	img := uniformImage(16, 16, 128)

	v, err := PSNR(img, img)
	require.NoError(t, err)
	assert.Equal(t, MaxPSNR, v)
	assert.False(t, math.IsInf(v, 0))
}

func TestPSNRKnownValue(t *testing.T) {

	a := uniformImage(8, 8, 100)
	b := uniformImage(8, 8, 110)

	// every channel differs by 10 so MSE is 100
	v, err := PSNR(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255/100.0), v, 1e-9)

	_, err = PSNR(a, uniformImage(4, 4, 0))
	assert.Error(t, err)
}

func TestPSNRTensor(t *testing.T) {

	a := tensor.Full(0.2, 2, 3, 4, 4)
	b := a.Clone()

	// second sample differs by 0.2 in [-1,1] which is 0.1 in [0,1]
	for i := 48; i < 96; i++ {
		b.Data[i] = 0.4
	}

	vals, err := PSNRTensor(a, b)
	require.NoError(t, err)
	require.Len(t, vals, 2)

	assert.Equal(t, MaxPSNR, vals[0])
	assert.InDelta(t, 20.0, vals[1], 1e-4)

	var m Meter
	m.AddAll(vals)
	assert.InDelta(t, 60.0, m.Mean(), 1e-4)
	assert.Equal(t, 2, m.Count())
}

func TestLaplacianVariance(t *testing.T) {

	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 64, 64, gocv.MatTypeCV8UC3)
	defer flat.Close()

	v, err := LaplacianVariance(flat)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-9)

	board := checkerboard(64, 64, 4)
	defer board.Close()

	v, err = LaplacianVariance(board)
	require.NoError(t, err)
	assert.Greater(t, v, DefaultBlurThreshold)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(board, &blurred, image.Pt(15, 15), 5, 5, gocv.BorderDefault)

	vb, err := LaplacianVariance(blurred)
	require.NoError(t, err)
	assert.Less(t, vb, v)
}

func TestBlurMap(t *testing.T) {

	// left half sharp, right half flat
	board := checkerboard(96, 64, 4)
	defer board.Close()

	right := board.Region(image.Rect(64, 0, 96, 64))
	right.SetTo(gocv.NewScalar(128, 128, 128, 0))
	right.Close()

	bm, err := ComputeBlurMap(board, DefaultBlurBlock)
	require.NoError(t, err)

	assert.Equal(t, 2, bm.Rows)
	assert.Equal(t, 3, bm.Cols)
	assert.Greater(t, bm.At(0, 0), bm.At(0, 2))

	heat := bm.HeatMap(96, 64)
	defer heat.Close()

	assert.Equal(t, 64, heat.Rows())
	assert.Equal(t, 96, heat.Cols())
	assert.Equal(t, 3, heat.Channels())
}

func TestSSIM(t *testing.T) {

	board := checkerboard(48, 48, 6)
	defer board.Close()

	same, err := SSIM(board, board)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 48, 48, gocv.MatTypeCV8UC3)
	defer flat.Close()

	diff, err := SSIM(board, flat)
	require.NoError(t, err)
	assert.Less(t, diff, 0.5)
}

func TestSummarize(t *testing.T) {

	assert.Equal(t, Summary{}, Summarize(nil))

	values := make([]float64, 20)

	// descending to check the input is sorted first
	for i := range values {
		values[i] = float64(20 - i)
	}

	s := Summarize(values)

	assert.Equal(t, 20, s.Count)
	assert.InDelta(t, 10.5, s.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(35), s.Std, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 20.0, s.Max)
	assert.Equal(t, 10.0, s.P50)
	assert.Equal(t, 19.0, s.P95)
	assert.Equal(t, 1.0, values[19], "input must not be reordered")

	one := Summarize([]float64{4})
	assert.Equal(t, 4.0, one.P95)
	assert.Equal(t, 0.0, one.Std)
}
