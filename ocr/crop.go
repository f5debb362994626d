package ocr

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

// DefaultPadRatio is the share of a box's width and height added on each side
// before cropping
const DefaultPadRatio = 0.1

// ErrEmptyCrop is returned when a padded region has no area inside the frame
var ErrEmptyCrop = errors.New("crop region is empty")

// PadRegion grows box by padRatio of its width and height on every side and
// clips the result to a frameW x frameH frame.  Padding is truncated to whole
// pixels.
func PadRegion(box detect.BBox, padRatio float64, frameW, frameH int) (image.Rectangle, error) {

	r := box.Rect()
	bw, bh := r.Dx(), r.Dy()

	if bw <= 0 || bh <= 0 {
		return image.Rectangle{}, ErrEmptyCrop
	}

	padX, padY := 0, 0

	if padRatio > 0 {
		padX = int(float64(bw) * padRatio)
		padY = int(float64(bh) * padRatio)
	}

	padded := image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY)
	padded = padded.Intersect(image.Rect(0, 0, frameW, frameH))

	if padded.Empty() {
		return image.Rectangle{}, ErrEmptyCrop
	}

	return padded, nil
}

// CropRegion copies the padded region of box out of frame.  The caller must
// Close the returned Mat.
func CropRegion(frame gocv.Mat, box detect.BBox, padRatio float64) (gocv.Mat, image.Rectangle, error) {

	rect, err := PadRegion(box, padRatio, frame.Cols(), frame.Rows())

	if err != nil {
		return gocv.NewMat(), image.Rectangle{}, err
	}

	roi := frame.Region(rect)
	defer roi.Close()

	return roi.Clone(), rect, nil
}
