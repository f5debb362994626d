package ocr

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	clipper "github.com/ctessum/go.clipper"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

// ErrDegeneratePolygon is returned when a polygon to unclip has no area
var ErrDegeneratePolygon = errors.New("polygon has no area")

// DefaultUnclipRatio grows located lines so strokes touching the line
// boundary are not cut
const DefaultUnclipRatio = 1.5

// polygonArea returns the absolute shoelace area of poly
func polygonArea(poly []image.Point) float64 {

	area := 0.0

	for i := range poly {
		j := (i + 1) % len(poly)
		area += float64(poly[i].X*poly[j].Y - poly[j].X*poly[i].Y)
	}

	return math.Abs(area) / 2
}

// polygonPerimeter returns the length of the closed outline of poly
func polygonPerimeter(poly []image.Point) float64 {

	length := 0.0

	for i := range poly {
		j := (i + 1) % len(poly)
		length += math.Hypot(float64(poly[j].X-poly[i].X), float64(poly[j].Y-poly[i].Y))
	}

	return length
}

// Unclip grows poly outwards by area*ratio/perimeter with rounded corners
// and returns the largest resulting outline
func Unclip(poly []image.Point, ratio float64) ([]image.Point, error) {

	if len(poly) < 3 {
		return nil, ErrDegeneratePolygon
	}

	area := polygonArea(poly)
	perimeter := polygonPerimeter(poly)

	if area == 0 || perimeter == 0 {
		return nil, ErrDegeneratePolygon
	}

	distance := area * ratio / perimeter

	var path clipper.Path

	for _, pt := range poly {
		path = append(path, &clipper.IntPoint{X: clipper.CInt(pt.X), Y: clipper.CInt(pt.Y)})
	}

	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

	solution := co.Execute(distance)

	var best []image.Point
	bestArea := -1.0

	for _, sol := range solution {
		pts := make([]image.Point, 0, len(sol))

		for _, pt := range sol {
			pts = append(pts, image.Pt(int(pt.X), int(pt.Y)))
		}

		if a := polygonArea(pts); a > bestArea {
			best, bestArea = pts, a
		}
	}

	if len(best) == 0 {
		return nil, fmt.Errorf("error offsetting polygon")
	}

	return best, nil
}

// boundsOf returns the smallest rectangle holding every point of poly
func boundsOf(poly []image.Point) image.Rectangle {

	r := image.Rectangle{Min: poly[0], Max: poly[0]}

	for _, pt := range poly[1:] {
		r.Min.X = min(r.Min.X, pt.X)
		r.Min.Y = min(r.Min.Y, pt.Y)
		r.Max.X = max(r.Max.X, pt.X)
		r.Max.Y = max(r.Max.Y, pt.Y)
	}

	return r
}

// LineParams controls how text lines are found in a crop
type LineParams struct {
	// UnclipRatio sets how far each line outline is grown
	UnclipRatio float64
	// CloseRatio is the share of the image width that character gaps are
	// bridged across
	CloseRatio float64
	// MinHeight is the smallest line height in pixels
	MinHeight int
	// MinAspect is the smallest width to height ratio of a line
	MinAspect float64
	// MaxLines limits the lines returned, zero for no limit
	MaxLines int
}

// DefaultLineParams returns line finding parameters for wagon number plates
func DefaultLineParams() LineParams {
	return LineParams{
		UnclipRatio: DefaultUnclipRatio,
		CloseRatio:  0.05,
		MinHeight:   8,
		MinAspect:   2,
		MaxLines:    4,
	}
}

// LineLocator finds horizontal text lines in an image
type LineLocator struct {
	Params LineParams
}

// NewLineLocator returns a locator, a zero UnclipRatio uses the default
func NewLineLocator(p LineParams) *LineLocator {

	if p.UnclipRatio <= 0 {
		p.UnclipRatio = DefaultUnclipRatio
	}

	return &LineLocator{Params: p}
}

// Locate returns the unclipped bounds of each text line in img ordered top
// to bottom
func (l *LineLocator) Locate(img gocv.Mat) ([]image.Rectangle, error) {

	if img.Empty() {
		return nil, ErrEmptyCrop
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	gradKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer gradKernel.Close()

	grad := gocv.NewMat()
	defer grad.Close()

	gocv.MorphologyEx(gray, &grad, gocv.MorphGradient, gradKernel)

	bin := gocv.NewMat()
	defer bin.Close()

	gocv.Threshold(grad, &bin, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	closeW := max(3, int(float64(img.Cols())*l.Params.CloseRatio))

	closeKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(closeW, 3))
	defer closeKernel.Close()

	gocv.MorphologyEx(bin, &bin, gocv.MorphClose, closeKernel)

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	frame := image.Rect(0, 0, img.Cols(), img.Rows())
	var lines []image.Rectangle

	for i := 0; i < contours.Size(); i++ {
		rr := gocv.MinAreaRect(contours.At(i))
		bounds := rr.BoundingRect

		if bounds.Dy() < l.Params.MinHeight ||
			float64(bounds.Dx()) < l.Params.MinAspect*float64(bounds.Dy()) {
			continue
		}

		grown, err := Unclip(rr.Points, l.Params.UnclipRatio)

		if err != nil {
			continue
		}

		r := boundsOf(grown).Intersect(frame)

		if !r.Empty() {
			lines = append(lines, r)
		}
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Min.Y != lines[j].Min.Y {
			return lines[i].Min.Y < lines[j].Min.Y
		}
		return lines[i].Min.X < lines[j].Min.X
	})

	if l.Params.MaxLines > 0 && len(lines) > l.Params.MaxLines {
		lines = lines[:l.Params.MaxLines]
	}

	return lines, nil
}

// LineReader splits an image into text lines and reads each one with the
// wrapped reader.  Result boxes are in the coordinates of the whole image.
// When no line is found the whole image is read.
type LineReader struct {
	Reader  TextReader
	Locator *LineLocator
}

// NewLineReader wraps tr with line splitting
func NewLineReader(tr TextReader, p LineParams) *LineReader {
	return &LineReader{
		Reader:  tr,
		Locator: NewLineLocator(p),
	}
}

// Read implements TextReader
func (r *LineReader) Read(img gocv.Mat, allow string) ([]TextResult, error) {

	lines, err := r.Locator.Locate(img)

	if err != nil {
		return nil, err
	}

	if len(lines) == 0 {
		return r.Reader.Read(img, allow)
	}

	var out []TextResult

	for _, rect := range lines {
		res, err := r.readLine(img, rect, allow)

		if err != nil {
			return nil, err
		}

		out = append(out, res...)
	}

	return out, nil
}

// readLine reads the rect region of img and moves the results into image
// coordinates
func (r *LineReader) readLine(img gocv.Mat, rect image.Rectangle, allow string) ([]TextResult, error) {

	roi := img.Region(rect)
	defer roi.Close()

	line := roi.Clone()
	defer line.Close()

	res, err := r.Reader.Read(line, allow)

	if err != nil {
		return nil, fmt.Errorf("error reading line %v: %w", rect, err)
	}

	dx, dy := float64(rect.Min.X), float64(rect.Min.Y)

	for i := range res {
		res[i].Box = detect.BBox{
			X1: res[i].Box.X1 + dx,
			Y1: res[i].Box.Y1 + dy,
			X2: res[i].Box.X2 + dx,
			Y2: res[i].Box.Y2 + dy,
		}
	}

	return res, nil
}
