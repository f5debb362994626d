package metrics

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/swdee/go-wagonocr/tensor"
)

// MaxPSNR is reported when two images are identical, where the mean squared
// error is zero and PSNR would otherwise be infinite
const MaxPSNR = 100.0

// psnrFromMSE converts a mean squared error into PSNR in dB for signals with
// the given peak value
func psnrFromMSE(mse, peak float64) float64 {

	if mse <= 0 {
		return MaxPSNR
	}

	return 10 * math.Log10(peak*peak/mse)
}

// PSNR returns the peak signal to noise ratio between two 8 bit RGB images
// of identical size
func PSNR(pred, target image.Image) (float64, error) {

	pb, tb := pred.Bounds(), target.Bounds()

	if pb.Dx() != tb.Dx() || pb.Dy() != tb.Dy() {
		return 0, fmt.Errorf("image sizes differ: %v vs %v", pb.Size(), tb.Size())
	}

	if pb.Empty() {
		return 0, fmt.Errorf("empty image")
	}

	var sum float64

	for y := 0; y < pb.Dy(); y++ {
		for x := 0; x < pb.Dx(); x++ {
			a := color.NRGBAModel.Convert(pred.At(pb.Min.X+x, pb.Min.Y+y)).(color.NRGBA)
			b := color.NRGBAModel.Convert(target.At(tb.Min.X+x, tb.Min.Y+y)).(color.NRGBA)

			dr := float64(a.R) - float64(b.R)
			dg := float64(a.G) - float64(b.G)
			db := float64(a.B) - float64(b.B)
			sum += dr*dr + dg*dg + db*db
		}
	}

	mse := sum / float64(pb.Dx()*pb.Dy()*3)

	return psnrFromMSE(mse, 255), nil
}

// PSNRTensor returns the PSNR of each batch item of two [N,C,H,W] tensors
// holding values in [-1, 1].  Values are mapped to [0, 1] and clamped before
// the error is measured.
func PSNRTensor(pred, target *tensor.Tensor) ([]float64, error) {

	if !pred.SameShape(target) {
		return nil, fmt.Errorf("tensor shapes differ: %v vs %v", pred.Shape, target.Shape)
	}

	n := pred.Shape[0]
	size := pred.Len() / n
	out := make([]float64, n)

	for b := 0; b < n; b++ {
		var sum float64

		for i := b * size; i < (b+1)*size; i++ {
			d := unit(pred.Data[i]) - unit(target.Data[i])
			sum += d * d
		}

		out[b] = psnrFromMSE(sum/float64(size), 1)
	}

	return out, nil
}

// unit maps a value in [-1, 1] to [0, 1] with clamping
func unit(v float32) float64 {

	x := (float64(v) + 1) / 2

	if x < 0 {
		return 0
	}

	if x > 1 {
		return 1
	}

	return x
}

// Meter keeps a running average
type Meter struct {
	sum   float64
	count int
}

// Add records a value
func (m *Meter) Add(v float64) {
	m.sum += v
	m.count++
}

// AddAll records every value in vs
func (m *Meter) AddAll(vs []float64) {
	for _, v := range vs {
		m.Add(v)
	}
}

// Mean returns the average of recorded values, or zero if none
func (m *Meter) Mean() float64 {

	if m.count == 0 {
		return 0
	}

	return m.sum / float64(m.count)
}

// Count returns the number of recorded values
func (m *Meter) Count() int {
	return m.count
}

// Reset clears the meter
func (m *Meter) Reset() {
	m.sum = 0
	m.count = 0
}
