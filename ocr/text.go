// Package ocr reads wagon identification numbers from detected regions.  A
// TextReader recognises text in one image, CropReader runs it over several
// preprocessing variants of a crop and keeps the most plausible reading.
package ocr

import (
	"strings"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

// DefaultAllow is the character set wagon numbers are written in
const DefaultAllow = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TextResult is one piece of text found in an image
type TextResult struct {
	// Box is the text location in the coordinates of the image read
	Box  detect.BBox
	Text string
	// Confidence is in the range [0, 1]
	Confidence float64
}

// TextReader recognises text in an image.  Only characters in allow are
// returned, an empty allow permits every character the reader knows.
type TextReader interface {
	Read(img gocv.Mat, allow string) ([]TextResult, error)
}

// FilterAllowed drops every rune of s not in allow
func FilterAllowed(s, allow string) string {

	if allow == "" {
		return s
	}

	var b strings.Builder

	for _, r := range s {
		if strings.ContainsRune(allow, r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}
