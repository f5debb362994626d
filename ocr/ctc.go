package ocr

import (
	"fmt"
	"math"
)

// CTCDecoder performs greedy CTC decoding of recogniser output
type CTCDecoder struct {
	// Charset maps a class index to its character, index 0 is the CTC blank
	Charset []string
	// allowed marks the classes that may be emitted, nil allows all
	allowed []bool
	allow   string
}

// NewCTCDecoder returns a decoder for the given charset
func NewCTCDecoder(charset []string) *CTCDecoder {
	return &CTCDecoder{Charset: charset}
}

// Allow restricts decoding to classes whose character is in allow.  Classes
// outside the set are never selected by the argmax, so a disallowed
// character does not hide the best allowed one at the same timestep.
func (d *CTCDecoder) Allow(allow string) {

	if allow == d.allow && (allow == "" || d.allowed != nil) {
		return
	}

	d.allow = allow

	if allow == "" {
		d.allowed = nil
		return
	}

	d.allowed = make([]bool, len(d.Charset))
	d.allowed[0] = true

	for i := 1; i < len(d.Charset); i++ {
		c := d.Charset[i]
		d.allowed[i] = c != "" && FilterAllowed(c, allow) == c
	}
}

// Decode reads a [steps, classes] row major probability matrix.  The class
// with the highest probability is taken at each step, blanks and repeats of
// the previous class are skipped.  The score is the mean probability of the
// emitted classes.
func (d *CTCDecoder) Decode(probs []float32, steps, classes int) (string, float64, error) {

	if classes != len(d.Charset) {
		return "", 0, fmt.Errorf("recogniser has %d classes but charset has %d characters",
			classes, len(d.Charset))
	}

	if len(probs) < steps*classes {
		return "", 0, fmt.Errorf("recogniser output has %d values, expected %d",
			len(probs), steps*classes)
	}

	var text []byte
	var score float64
	var count int
	lastIdx := -1

	for n := 0; n < steps; n++ {
		offset := n * classes
		idx, val := d.argMax(probs[offset : offset+classes])

		if idx > 0 && idx != lastIdx {
			score += float64(val)
			count++
			text = append(text, d.Charset[idx]...)
		}

		lastIdx = idx
	}

	if count == 0 {
		return "", 0, nil
	}

	score /= float64(count) + 1e-6

	if math.IsNaN(score) {
		score = 0
	}

	return string(text), score, nil
}

// argMax returns the index and value of the largest allowed element
func (d *CTCDecoder) argMax(slice []float32) (int, float32) {

	maxIdx := 0
	maxValue := slice[0]

	for i, value := range slice {
		if d.allowed != nil && !d.allowed[i] {
			continue
		}

		if value > maxValue {
			maxValue = value
			maxIdx = i
		}
	}

	return maxIdx, maxValue
}
