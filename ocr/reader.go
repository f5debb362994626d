package ocr

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

// ReaderConfig holds the acceptance rules for candidate readings
type ReaderConfig struct {
	// Allow is the character set passed to the text reader
	Allow string
	// MinLength and MinDigits are the fewest characters and digits a cleaned
	// text needs to be accepted
	MinLength int
	MinDigits int
	// MinConfidence is exclusive, a candidate must score above it
	MinConfidence float64
	// PadRatio grows detection boxes on each side before cropping
	PadRatio float64
}

// DefaultReaderConfig returns the rules tuned for wagon numbers
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		Allow:         DefaultAllow,
		MinLength:     4,
		MinDigits:     3,
		MinConfidence: 0.1,
		PadRatio:      DefaultPadRatio,
	}
}

// Reading is the text chosen for one crop.  An empty Text means no candidate
// qualified.
type Reading struct {
	Text       string
	Confidence float64
	// Variant names the preprocessing the reading came from
	Variant string
}

// Score ranks a reading, longer texts outweigh short confident fragments
func (r Reading) Score() float64 {
	return r.Confidence * float64(utf8.RuneCountInString(r.Text))
}

// CropReader reads a crop under several preprocessing variants and keeps
// the best scoring text
type CropReader struct {
	Reader   TextReader
	Restorer Restorer
	Config   ReaderConfig
	log      zerolog.Logger
}

// NewCropReader returns a reader using tr for recognition.  restorer may be
// nil to skip deblurring, logger nil uses the global logger.
func NewCropReader(tr TextReader, restorer Restorer, cfg ReaderConfig, logger *zerolog.Logger) *CropReader {

	l := log.Logger

	if logger != nil {
		l = *logger
	}

	if cfg.Allow == "" {
		cfg.Allow = DefaultAllow
	}

	return &CropReader{
		Reader:   tr,
		Restorer: restorer,
		Config:   cfg,
		log:      l,
	}
}

// CleanText keeps the letters and digits of s in upper case
func CleanText(s string) string {

	var b strings.Builder

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}

	return b.String()
}

// countDigits returns the number of decimal digits in s
func countDigits(s string) int {

	n := 0

	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}

	return n
}

// Qualifies reports whether an already cleaned text and its confidence pass
// the acceptance rules
func (c ReaderConfig) Qualifies(text string, conf float64) bool {
	return utf8.RuneCountInString(text) >= c.MinLength &&
		countDigits(text) >= c.MinDigits &&
		conf > c.MinConfidence
}

// Select returns the best qualifying reading among results.  A candidate
// replaces the current best only when its score is strictly higher, so the
// earliest of equal scoring candidates is kept.
func (c ReaderConfig) Select(best Reading, variant string, results []TextResult) Reading {

	for _, res := range results {
		text := CleanText(res.Text)

		if !c.Qualifies(text, res.Confidence) {
			continue
		}

		cand := Reading{Text: text, Confidence: res.Confidence, Variant: variant}

		if cand.Score() > best.Score() {
			best = cand
		}
	}

	return best
}

// Read runs every variant of crop through the text reader and returns the
// best reading.  A variant the reader fails on is logged and skipped.
func (r *CropReader) Read(crop gocv.Mat) (Reading, error) {

	vs, err := Variants(crop, r.Restorer, r.log)

	if err != nil {
		return Reading{}, err
	}

	defer CloseVariants(vs)

	var best Reading

	for _, v := range vs {
		results, err := r.Reader.Read(v.Mat, r.Config.Allow)

		if err != nil {
			r.log.Warn().Err(err).Str("variant", v.Name).Msg("Text reader failed")
			continue
		}

		best = r.Config.Select(best, v.Name, results)
	}

	return best, nil
}

// ReadRegion crops the padded box out of frame and reads it
func (r *CropReader) ReadRegion(frame gocv.Mat, box detect.BBox) (Reading, error) {

	crop, _, err := CropRegion(frame, box, r.Config.PadRatio)

	if err != nil {
		return Reading{}, err
	}

	defer crop.Close()

	return r.Read(crop)
}
