package detect

import (
	"image"
	"math"
)

// BBox is an axis aligned box in pixel coordinates with (X1,Y1) the top left
// and (X2,Y2) the bottom right corner
type BBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// BoxFromRect converts an image rectangle to a BBox
func BoxFromRect(r image.Rectangle) BBox {
	return BBox{
		X1: float64(r.Min.X),
		Y1: float64(r.Min.Y),
		X2: float64(r.Max.X),
		Y2: float64(r.Max.Y),
	}
}

// Width returns the box width, zero for inverted boxes
func (b BBox) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height returns the box height, zero for inverted boxes
func (b BBox) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area returns the box area
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the centre point
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU returns the intersection over union of two boxes using continuous
// coordinates.  Boxes with no union have an IoU of zero.
func (b BBox) IoU(o BBox) float64 {

	iw := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	ih := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)

	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := b.Area() + o.Area() - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// Clip limits the box to a width x height frame
func (b BBox) Clip(width, height int) BBox {
	return BBox{
		X1: clampf(b.X1, 0, float64(width)),
		Y1: clampf(b.Y1, 0, float64(height)),
		X2: clampf(b.X2, 0, float64(width)),
		Y2: clampf(b.Y2, 0, float64(height)),
	}
}

// Rect returns the smallest integer rectangle containing the box
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
