package metrics

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBlurThreshold is the Laplacian variance below which an image is
// considered blurry.  It was chosen empirically for the wagon camera setup and
// should be tuned for other resolutions.
const DefaultBlurThreshold = 100.0

// DefaultBlurBlock is the tile size in pixels used for the blur map
const DefaultBlurBlock = 32

// laplacian returns the Laplacian response of the grayscale version of img as
// a flat row major slice along with its dimensions
func laplacian(img gocv.Mat) ([]float64, int, int, error) {

	if img.Empty() {
		return nil, 0, 0, fmt.Errorf("empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()

	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	lap := gocv.NewMat()
	defer lap.Close()

	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	data, err := lap.DataPtrFloat64()

	if err != nil {
		return nil, 0, 0, fmt.Errorf("error reading laplacian: %w", err)
	}

	// copy out of Mat owned memory
	out := make([]float64, len(data))
	copy(out, data)

	return out, lap.Rows(), lap.Cols(), nil
}

// LaplacianVariance returns the variance of the Laplacian of the grayscale
// image.  Sharp images have strong edges and a high variance, lower values
// indicate more blur.
func LaplacianVariance(img gocv.Mat) (float64, error) {

	lap, _, _, err := laplacian(img)

	if err != nil {
		return 0, err
	}

	return stat.PopVariance(lap, nil), nil
}

// BlurMap holds per tile Laplacian variance of an image
type BlurMap struct {
	// Block is the tile size in pixels
	Block int
	// Rows and Cols are the number of tiles in each axis
	Rows int
	Cols int
	// Scores holds the variance of each tile in row major order
	Scores []float64
}

// At returns the score of tile row r, column c
func (b *BlurMap) At(r, c int) float64 {
	return b.Scores[r*b.Cols+c]
}

// ComputeBlurMap partitions the image into block x block tiles and computes
// the Laplacian variance of each.  Partial tiles at the right and bottom
// edges are ignored.
func ComputeBlurMap(img gocv.Mat, block int) (*BlurMap, error) {

	if block < 1 {
		return nil, fmt.Errorf("invalid block size %d", block)
	}

	lap, h, w, err := laplacian(img)

	if err != nil {
		return nil, err
	}

	bm := &BlurMap{
		Block: block,
		Rows:  h / block,
		Cols:  w / block,
	}

	bm.Scores = make([]float64, bm.Rows*bm.Cols)
	tile := make([]float64, block*block)

	for r := 0; r < bm.Rows; r++ {
		for c := 0; c < bm.Cols; c++ {
			for y := 0; y < block; y++ {
				row := (r*block + y) * w
				copy(tile[y*block:(y+1)*block], lap[row+c*block:row+(c+1)*block])
			}

			bm.Scores[r*bm.Cols+c] = stat.PopVariance(tile, nil)
		}
	}

	return bm, nil
}

// HeatMap renders the blur map as a JET coloured image of the given size where
// each tile is filled with its score normalised to 0-255.  The caller must
// Close the returned Mat.
func (b *BlurMap) HeatMap(width, height int) gocv.Mat {

	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	defer gray.Close()

	if len(b.Scores) > 0 {
		lo, hi := floats.Min(b.Scores), floats.Max(b.Scores)
		span := hi - lo

		for r := 0; r < b.Rows; r++ {
			for c := 0; c < b.Cols; c++ {
				var v uint8

				if span > 0 {
					v = uint8(math.Round(255 * (b.At(r, c) - lo) / span))
				}

				for y := r * b.Block; y < (r+1)*b.Block && y < height; y++ {
					for x := c * b.Block; x < (c+1)*b.Block && x < width; x++ {
						gray.SetUCharAt(y, x, v)
					}
				}
			}
		}
	}

	heat := gocv.NewMat()
	gocv.ApplyColorMap(gray, &heat, gocv.ColormapJet)

	return heat
}
