package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/tracker"
)

// boxLabel defines where the detection object label should be rendered on
// source image
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// layoutLabel positions the text label of a box according to the font
// alignment
func layoutLabel(rect image.Rectangle, text string, clr color.RGBA, font Font,
	lineThickness int) boxLabel {

	textSize := font.Size(text)
	pad := font.Pad

	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (rect.Min.X + rect.Max.X) / 2

	case Right:
		centerX = rect.Max.X - (textSize.X / 2) - pad.Right + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = rect.Min.X + (textSize.X / 2) + pad.Left - (lineThickness / 2)
	}

	labelPosition := image.Pt(centerX-textSize.X/2, rect.Min.Y-pad.Bottom)

	bRect := image.Rect(centerX-textSize.X/2-pad.Left,
		rect.Min.Y-textSize.Y-pad.Top-pad.Bottom,
		centerX+textSize.X/2+pad.Right, rect.Min.Y)

	return boxLabel{
		rect:    bRect,
		clr:     clr,
		text:    text,
		textPos: labelPosition,
	}
}

// drawLabels draws the precalculated labels last so they are the top most
// layer and never overlapped by another box outline
func drawLabels(img *gocv.Mat, boxLabels []boxLabel, font Font) {

	for _, box := range boxLabels {
		gocv.Rectangle(img, box.rect, box.clr, -1)
		font.Draw(img, box.text, box.textPos)
	}
}

// DetectionBoxes renders the bounding boxes and label of each detection
func DetectionBoxes(img *gocv.Mat, dets []detect.Detection, font Font, lineThickness int) {

	boxLabels := make([]boxLabel, 0, len(dets))

	for i, det := range dets {
		useClr := colorFor(i)

		rect := det.Box.Rect()
		gocv.Rectangle(img, rect, useClr, lineThickness)

		text := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		boxLabels = append(boxLabels, layoutLabel(rect, text, useClr, font, lineThickness))
	}

	drawLabels(img, boxLabels, font)
}

// TrackBoxes renders the bounding box of each track labelled with its id and
// consensus text.  Tracks without text are drawn in the Unread color.
func TrackBoxes(img *gocv.Mat, tracks []*tracker.Track, font Font, lineThickness int) {

	boxLabels := make([]boxLabel, 0, len(tracks))

	for _, t := range tracks {
		useClr := Unread
		text := fmt.Sprintf("#%d", t.ID)

		if best := t.BestText(); best != "" {
			useClr = colorFor(t.ID)
			text = fmt.Sprintf("#%d %s %.2f", t.ID, best, t.Confidence())
		}

		rect := t.Box.Rect()
		gocv.Rectangle(img, rect, useClr, lineThickness)

		boxLabels = append(boxLabels, layoutLabel(rect, text, useClr, font, lineThickness))
	}

	drawLabels(img, boxLabels, font)
}
