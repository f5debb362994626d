package ocr

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Variant names in the order they are generated
const (
	VariantRestored = "restored"
	VariantCLAHE    = "clahe"
	VariantDenoise  = "denoise"
	VariantSharpen  = "sharpen"
	VariantAdaptive = "adaptive"
	VariantPlain    = "plain"
)

// VariantNames lists every variant in generation order
var VariantNames = []string{
	VariantRestored, VariantCLAHE, VariantDenoise,
	VariantSharpen, VariantAdaptive, VariantPlain,
}

// Restorer deblurs an image, restore.Agent satisfies it
type Restorer interface {
	Restore(mat gocv.Mat) (gocv.Mat, error)
}

// Variant is one preprocessed rendition of a crop
type Variant struct {
	Name string
	Mat  gocv.Mat
}

// CloseVariants releases the Mats of vs
func CloseVariants(vs []Variant) {
	for _, v := range vs {
		v.Mat.Close()
	}
}

// sharpenKernel boosts the centre pixel against its eight neighbours
var sharpenKernel = [9]float32{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Variants produces the preprocessed renditions of crop read by the text
// reader.  The crop is deblurred by restorer when one is given, falling back
// to the raw crop if restoration fails, then upscaled 2x.  The remaining
// variants are derived from the grayscale of the upscaled image.  The caller
// must release the result with CloseVariants.
func Variants(crop gocv.Mat, restorer Restorer, logger zerolog.Logger) ([]Variant, error) {

	if crop.Empty() {
		return nil, ErrEmptyCrop
	}

	base := crop.Clone()

	if restorer != nil {
		restored, err := restorer.Restore(crop)

		if err != nil {
			logger.Warn().Err(err).Msg("Crop restoration failed, reading raw crop")
			restored.Close()
		} else {
			base.Close()
			base = restored
		}
	}

	defer base.Close()

	up := gocv.NewMat()
	gocv.Resize(base, &up, image.Pt(base.Cols()*2, base.Rows()*2), 0, 0, gocv.InterpolationCubic)

	vs := []Variant{{Name: VariantRestored, Mat: up}}

	gray := gocv.NewMat()

	switch up.Channels() {
	case 1:
		up.CopyTo(&gray)
	case 3:
		gocv.CvtColor(up, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(up, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		CloseVariants(vs)
		return nil, fmt.Errorf("unsupported channel count %d", up.Channels())
	}

	clahe := gocv.NewCLAHEWithParams(3.0, image.Pt(8, 8))
	defer clahe.Close()

	enhanced := gocv.NewMat()
	clahe.Apply(gray, &enhanced)
	vs = append(vs, Variant{Name: VariantCLAHE, Mat: enhanced})

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(gray, &denoised, 10, 7, 21)

	denoiseEnhanced := gocv.NewMat()
	clahe.Apply(denoised, &denoiseEnhanced)
	vs = append(vs, Variant{Name: VariantDenoise, Mat: denoiseEnhanced})

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()

	for i, v := range sharpenKernel {
		kernel.SetFloatAt(i/3, i%3, v)
	}

	sharpened := gocv.NewMat()
	gocv.Filter2D(gray, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderReflect101)
	vs = append(vs, Variant{Name: VariantSharpen, Mat: sharpened})

	thresh := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)
	vs = append(vs, Variant{Name: VariantAdaptive, Mat: thresh})

	vs = append(vs, Variant{Name: VariantPlain, Mat: gray})

	return vs, nil
}
