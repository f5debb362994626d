package metrics

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// SSIM constants for 8 bit data, (k*L)^2 with k1=0.01, k2=0.03 and L=255
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// SSIM returns the mean structural similarity of two images of identical size
// computed on their grayscale versions with an 11x11 Gaussian window of
// sigma 1.5
func SSIM(a, b gocv.Mat) (float64, error) {

	if a.Empty() || b.Empty() {
		return 0, fmt.Errorf("empty image")
	}

	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return 0, fmt.Errorf("image sizes differ: %dx%d vs %dx%d",
			a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}

	x := toGrayFloat(a)
	defer x.Close()

	y := toGrayFloat(b)
	defer y.Close()

	blur := func(src gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.GaussianBlur(src, &dst, image.Pt(11, 11), 1.5, 1.5, gocv.BorderDefault)
		return dst
	}

	mul := func(m1, m2 gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.Multiply(m1, m2, &dst)
		return dst
	}

	muX := blur(x)
	defer muX.Close()
	muY := blur(y)
	defer muY.Close()

	muXX := mul(muX, muX)
	defer muXX.Close()
	muYY := mul(muY, muY)
	defer muYY.Close()
	muXY := mul(muX, muY)
	defer muXY.Close()

	xx := mul(x, x)
	defer xx.Close()
	yy := mul(y, y)
	defer yy.Close()
	xy := mul(x, y)
	defer xy.Close()

	sigXX := blur(xx)
	defer sigXX.Close()
	sigYY := blur(yy)
	defer sigYY.Close()
	sigXY := blur(xy)
	defer sigXY.Close()

	gocv.Subtract(sigXX, muXX, &sigXX)
	gocv.Subtract(sigYY, muYY, &sigYY)
	gocv.Subtract(sigXY, muXY, &sigXY)

	// numerator (2*muXY + C1) * (2*sigXY + C2)
	num1 := gocv.NewMat()
	defer num1.Close()
	muXY.ConvertToWithParams(&num1, gocv.MatTypeCV64F, 2, ssimC1)

	num2 := gocv.NewMat()
	defer num2.Close()
	sigXY.ConvertToWithParams(&num2, gocv.MatTypeCV64F, 2, ssimC2)

	num := mul(num1, num2)
	defer num.Close()

	// denominator (muXX + muYY + C1) * (sigXX + sigYY + C2)
	den1 := gocv.NewMat()
	defer den1.Close()
	gocv.Add(muXX, muYY, &den1)
	den1.AddFloat(ssimC1)

	den2 := gocv.NewMat()
	defer den2.Close()
	gocv.Add(sigXX, sigYY, &den2)
	den2.AddFloat(ssimC2)

	den := mul(den1, den2)
	defer den.Close()

	ssimMap := gocv.NewMat()
	defer ssimMap.Close()
	gocv.Divide(num, den, &ssimMap)

	return ssimMap.Mean().Val1, nil
}

// toGrayFloat converts an 8 bit image to a single channel float64 Mat
func toGrayFloat(src gocv.Mat) gocv.Mat {

	gray := gocv.NewMat()
	defer gray.Close()

	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}

	out := gocv.NewMat()
	gray.ConvertTo(&out, gocv.MatTypeCV64F)

	return out
}
