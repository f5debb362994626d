package preprocess

import (
	"image"
	"math"
)

// Tiler splits a large image into overlapping fixed size tiles so each tile can
// be processed independently and blended back together
type Tiler struct {
	// tileWidth is the width of each tile
	tileWidth int
	// tileHeight is the height of each tile
	tileHeight int
	// overlap is a ratio from 0.0 to 1.0 of the tile size that neighbouring
	// tiles must share at minimum.  A value of 0.25 represents 25% of the
	// tile's pixels
	overlap float32
}

// NewTiler returns a tiler producing tiles of the given size
func NewTiler(tileWidth, tileHeight int, overlap float32) *Tiler {
	return &Tiler{
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		overlap:    overlap,
	}
}

// computePositions returns the start coordinates (0 based) of each tile
// along one axis and the tile length used.  It guarantees:
//
//   - the smallest n tiles so that consecutive tiles overlap by at least
//     tileLen*overlapRatio pixels
//   - the first tile starts at 0 and the last ends at srcLen
//
// leftover pixels are spread evenly via rounding.  When the source is not
// larger than a tile a single tile covering the source is returned.
func (t *Tiler) computePositions(srcLen, tileLen int, overlapRatio float32) ([]int, int) {

	if srcLen <= tileLen {
		return []int{0}, srcLen
	}

	// minimum pixel overlap
	minOv := int(math.Ceil(float64(tileLen) * float64(overlapRatio)))

	// largest allowed step between tile starts
	maxStep := tileLen - minOv

	if maxStep < 1 {
		maxStep = 1
	}

	n := int(math.Ceil(float64(srcLen-tileLen)/float64(maxStep))) + 1

	// actual step (evenly spread)
	step := float64(srcLen-tileLen) / float64(n-1)

	positions := make([]int, n)

	for i := 0; i < n; i++ {
		p := int(math.Round(step * float64(i)))

		// clamp to [0, srcLen-tileLen]
		if p < 0 {
			p = 0
		} else if p > srcLen-tileLen {
			p = srcLen - tileLen
		}

		positions[i] = p
	}

	return positions, tileLen
}

// Tiles returns the rectangles covering an image of the given size
func (t *Tiler) Tiles(srcWidth, srcHeight int) []image.Rectangle {

	xs, tileW := t.computePositions(srcWidth, t.tileWidth, t.overlap)
	ys, tileH := t.computePositions(srcHeight, t.tileHeight, t.overlap)

	rects := make([]image.Rectangle, 0, len(xs)*len(ys))

	for _, y := range ys {
		for _, x := range xs {
			rects = append(rects, image.Rect(x, y, x+tileW, y+tileH))
		}
	}

	return rects
}
