package ocr

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

func TestUnclip(t *testing.T) {

	rect := []image.Point{{0, 0}, {100, 0}, {100, 20}, {0, 20}}

	grown, err := Unclip(rect, 1.5)
	require.NoError(t, err)

	// area 2000, perimeter 240 gives an offset of 12.5
	b := boundsOf(grown)
	assert.InDelta(t, -12.5, float64(b.Min.X), 1)
	assert.InDelta(t, -12.5, float64(b.Min.Y), 1)
	assert.InDelta(t, 112.5, float64(b.Max.X), 1)
	assert.InDelta(t, 32.5, float64(b.Max.Y), 1)
	assert.Greater(t, len(grown), 4, "corners should be rounded")
	assert.Greater(t, polygonArea(grown), polygonArea(rect))
}

func TestUnclipDegenerate(t *testing.T) {

	tests := []struct {
		name string
		poly []image.Point
	}{
		{"collinear", []image.Point{{0, 0}, {10, 0}, {20, 0}}},
		{"too few points", []image.Point{{0, 0}, {10, 10}}},
		{"single point", []image.Point{{5, 5}, {5, 5}, {5, 5}, {5, 5}}},
	}

	for _, tc := range tests {
		_, err := Unclip(tc.poly, 1.5)
		assert.ErrorIs(t, err, ErrDegeneratePolygon, tc.name)
	}
}

// twoLineImage draws two dark bars on white, one line of text each
func twoLineImage() gocv.Mat {

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 80, 200, gocv.MatTypeCV8UC3)
	black := color.RGBA{0, 0, 0, 0}
	gocv.Rectangle(&img, image.Rect(20, 10, 180, 24), black, -1)
	gocv.Rectangle(&img, image.Rect(40, 50, 160, 66), black, -1)

	return img
}

func TestLineLocatorLocate(t *testing.T) {

	img := twoLineImage()
	defer img.Close()

	lines, err := NewLineLocator(DefaultLineParams()).Locate(img)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.True(t, image.Pt(100, 17).In(lines[0]), "top line %v", lines[0])
	assert.True(t, image.Pt(100, 58).In(lines[1]), "bottom line %v", lines[1])
	assert.False(t, image.Pt(100, 58).In(lines[0]))
	assert.Less(t, lines[0].Min.Y, lines[1].Min.Y)

	// grown past the drawn bar
	assert.Less(t, lines[0].Min.X, 20)
	assert.True(t, lines[0].In(image.Rect(0, 0, 200, 80)))
}

func TestLineLocatorFilters(t *testing.T) {

	tests := []struct {
		name   string
		bar    image.Rectangle
		params func(*LineParams)
		expect int
	}{
		{"wide bar", image.Rect(20, 30, 180, 46), nil, 1},
		{"square blob", image.Rect(80, 20, 120, 60), nil, 0},
		{"thin stroke", image.Rect(20, 38, 180, 41), nil, 0},
		{"aspect raised", image.Rect(20, 30, 180, 46), func(p *LineParams) { p.MinAspect = 20 }, 0},
	}

	for _, tc := range tests {
		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 80, 200, gocv.MatTypeCV8UC3)
		gocv.Rectangle(&img, tc.bar, color.RGBA{0, 0, 0, 0}, -1)

		p := DefaultLineParams()
		if tc.params != nil {
			tc.params(&p)
		}

		lines, err := NewLineLocator(p).Locate(img)
		img.Close()

		require.NoError(t, err, tc.name)
		assert.Len(t, lines, tc.expect, tc.name)
	}

	_, err := NewLineLocator(DefaultLineParams()).Locate(gocv.NewMat())
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

// sizeReader returns one result covering each image it reads
type sizeReader struct {
	sizes []image.Point
	err   error
}

func (s *sizeReader) Read(img gocv.Mat, allow string) ([]TextResult, error) {

	s.sizes = append(s.sizes, image.Pt(img.Cols(), img.Rows()))

	if s.err != nil {
		return nil, s.err
	}

	return []TextResult{{
		Box:        detect.BBox{X2: float64(img.Cols()), Y2: float64(img.Rows())},
		Text:       "AB12",
		Confidence: 0.9,
	}}, nil
}

func TestLineReaderRead(t *testing.T) {

	img := twoLineImage()
	defer img.Close()

	p := DefaultLineParams()
	lines, err := NewLineLocator(p).Locate(img)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	inner := &sizeReader{}
	res, err := NewLineReader(inner, p).Read(img, DefaultAllow)
	require.NoError(t, err)
	require.Len(t, res, 2)

	for i, rect := range lines {
		assert.Equal(t, image.Pt(rect.Dx(), rect.Dy()), inner.sizes[i])
		assert.Equal(t, detect.BoxFromRect(rect), res[i].Box)
	}
}

func TestLineReaderFallsBackToWholeImage(t *testing.T) {

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 40, 120, gocv.MatTypeCV8UC3)
	defer img.Close()

	inner := &sizeReader{}
	res, err := NewLineReader(inner, DefaultLineParams()).Read(img, DefaultAllow)
	require.NoError(t, err)

	assert.Equal(t, []image.Point{{120, 40}}, inner.sizes)
	require.Len(t, res, 1)
	assert.Equal(t, detect.BBox{X2: 120, Y2: 40}, res[0].Box)
}

func TestLineReaderError(t *testing.T) {

	img := twoLineImage()
	defer img.Close()

	boom := errors.New("boom")
	_, err := NewLineReader(&sizeReader{err: boom}, DefaultLineParams()).Read(img, DefaultAllow)
	assert.ErrorIs(t, err, boom)
}
