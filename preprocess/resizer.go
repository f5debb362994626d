package preprocess

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// LetterboxFill is the gray used to pad letterboxed detector input
var LetterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox scales frames of any size into a fixed detector input while
// keeping the aspect ratio, centring the result between padding bars.  The
// geometry of the last fitted frame is kept so detector coordinates can be
// mapped back onto the source frame.
type Letterbox struct {
	// dstW and dstH are the model input dimensions
	dstW int
	dstH int
	// srcW and srcH are the dimensions of the fitted frame
	srcW int
	srcH int
	// resizeW and resizeH are the scaled frame dimensions before padding
	resizeW int
	resizeH int
	xPad    int
	yPad    int
	scale   float32
	tmp     gocv.Mat
}

// NewLetterbox returns a letterbox producing dstW x dstH images
func NewLetterbox(dstW, dstH int) *Letterbox {
	return &Letterbox{
		dstW: dstW,
		dstH: dstH,
		tmp:  gocv.NewMat(),
	}
}

// Close frees the intermediate Mat
func (l *Letterbox) Close() error {
	return l.tmp.Close()
}

// Fit computes the scale and padding for a srcW x srcH frame.  It is cheap
// to call for every frame and a no-op when the size is unchanged.
func (l *Letterbox) Fit(srcW, srcH int) {

	if srcW == l.srcW && srcH == l.srcH && l.scale != 0 {
		return
	}

	l.srcW, l.srcH = srcW, srcH
	l.resizeW, l.resizeH = l.dstW, l.dstH

	scaleW := float32(l.dstW) / float32(srcW)
	scaleH := float32(l.dstH) / float32(srcH)

	if scaleW < scaleH {
		l.scale = scaleW
		l.resizeH = int(float32(srcH) * scaleW)
	} else {
		l.scale = scaleH
		l.resizeW = int(float32(srcW) * scaleH)
	}

	l.xPad = (l.dstW - l.resizeW) / 2
	l.yPad = (l.dstH - l.resizeH) / 2
}

// Apply fits src and writes the letterboxed image into dst
func (l *Letterbox) Apply(src gocv.Mat, dst *gocv.Mat, fill color.RGBA) {

	l.Fit(src.Cols(), src.Rows())

	gocv.Resize(src, &l.tmp, image.Pt(l.resizeW, l.resizeH), 0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(l.tmp, dst,
		l.yPad, l.dstH-l.resizeH-l.yPad,
		l.xPad, l.dstW-l.resizeW-l.xPad,
		gocv.BorderConstant, fill)
}

// ToSource maps a point in model input coordinates onto the fitted frame,
// clamped to the frame bounds
func (l *Letterbox) ToSource(x, y float32) (float64, float64) {

	sx := float64((x - float32(l.xPad)) / l.scale)
	sy := float64((y - float32(l.yPad)) / l.scale)

	return clampTo(sx, l.srcW), clampTo(sy, l.srcH)
}

func clampTo(v float64, limit int) float64 {

	if v < 0 {
		return 0
	}

	if v > float64(limit) {
		return float64(limit)
	}

	return v
}

// ScaleFactor returns the source to model scale
func (l *Letterbox) ScaleFactor() float32 {
	return l.scale
}

// XPad returns the left padding in model pixels
func (l *Letterbox) XPad() int {
	return l.xPad
}

// YPad returns the top padding in model pixels
func (l *Letterbox) YPad() int {
	return l.yPad
}
