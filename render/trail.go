package render

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/tracker"
)

// TrailStyle sets how the path of a track is drawn.  A zero LineColor or
// DotColor uses the track color.
type TrailStyle struct {
	LineColor     color.RGBA
	LineThickness int
	DotColor      color.RGBA
	DotRadius     int
	// MinPoints is the shortest history drawn
	MinPoints int
}

// DefaultTrailStyle draws yellow paths ending in a dot of the track color
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		LineColor:     Yellow,
		LineThickness: 1,
		DotRadius:     3,
		MinPoints:     3,
	}
}

func pick(c, fallback color.RGBA) color.RGBA {

	if c.A == 0 {
		return fallback
	}

	return c
}

// Trail draws the recorded box centres of each track as a polyline with a dot
// on the latest position
func Trail(img *gocv.Mat, tracks []*tracker.Track, trail *tracker.Trail, style TrailStyle) {

	for _, t := range tracks {

		points := trail.Points(t.ID)

		if len(points) < max(style.MinPoints, 2) {
			continue
		}

		pts := make([]image.Point, len(points))

		for i, p := range points {
			pts[i] = image.Pt(p.X, p.Y)
		}

		clr := colorFor(t.ID)

		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		gocv.Polylines(img, pv, false, pick(style.LineColor, clr), style.LineThickness)
		pv.Close()

		gocv.Circle(img, pts[len(pts)-1], style.DotRadius, pick(style.DotColor, clr), -1)
	}
}
