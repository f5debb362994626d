package render

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Alignment positions a label along the top edge of its box
type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Padding is the space in pixels around label text
type Padding struct {
	Left, Right, Top, Bottom int
}

// Font sets how box labels are written
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	Pad       Padding
	Alignment Alignment
}

// DefaultFont suits frames up to around 1280 pixels wide
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		Pad:       Padding{Left: 4, Right: 4, Top: 4, Bottom: 6},
		Alignment: Left,
	}
}

// LargeFont suits full HD wagon camera frames
func LargeFont() Font {

	f := DefaultFont()
	f.Scale = 1.0
	f.Thickness = 2
	f.Pad = Padding{Left: 6, Right: 6, Top: 6, Bottom: 10}

	return f
}

// Size returns the pixel size of text
func (f Font) Size(text string) image.Point {
	return gocv.GetTextSize(text, f.Face, f.Scale, f.Thickness)
}

// Draw writes text with its baseline starting at pt
func (f Font) Draw(img *gocv.Mat, text string, pt image.Point) {
	gocv.PutTextWithParams(img, text, pt, f.Face, f.Scale, f.Color,
		f.Thickness, f.LineType, false)
}
