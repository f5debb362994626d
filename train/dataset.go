package train

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyDataset is returned when no blurred/sharp image pairs are found
	ErrEmptyDataset = errors.New("dataset has no matching image pairs")
)

const (
	// maxLoadAttempts is the number of consecutive pairs tried before
	// falling back to a gray placeholder
	maxLoadAttempts = 10
	// DefaultValFraction is the share of pairs held out for validation
	DefaultValFraction = 0.1
	// DefaultSplitSeed makes the train/validation split reproducible
	DefaultSplitSeed = 42
)

// imageExts lists the file extensions considered dataset images
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Pair is a blurred image and its sharp ground truth
type Pair struct {
	// Name is the shared file name
	Name  string
	Blur  string
	Sharp string
}

// DatasetOptions tunes dataset construction
type DatasetOptions struct {
	// MaxSamples limits the number of pairs used, zero for all
	MaxSamples int
	// Logger receives warnings for corrupt pairs
	Logger *zerolog.Logger
}

// PairedDataset is an indexed set of blurred/sharp image pairs matched by
// file name across two directories
type PairedDataset struct {
	pairs []Pair
	log   zerolog.Logger
}

// NewPairedDataset scans blurDir for images having a file of the same name
// in sharpDir
func NewPairedDataset(blurDir, sharpDir string, opts DatasetOptions) (*PairedDataset, error) {

	entries, err := os.ReadDir(blurDir)

	if err != nil {
		return nil, fmt.Errorf("error reading blur dir: %w", err)
	}

	var pairs []Pair

	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}

		sharp := filepath.Join(sharpDir, e.Name())

		if _, err := os.Stat(sharp); err != nil {
			continue
		}

		pairs = append(pairs, Pair{
			Name:  e.Name(),
			Blur:  filepath.Join(blurDir, e.Name()),
			Sharp: sharp,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Name < pairs[j].Name
	})

	if opts.MaxSamples > 0 && len(pairs) > opts.MaxSamples {
		pairs = pairs[:opts.MaxSamples]
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: blur=%s sharp=%s", ErrEmptyDataset, blurDir, sharpDir)
	}

	logger := log.Logger

	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &PairedDataset{pairs: pairs, log: logger}, nil
}

// Len returns the number of pairs
func (d *PairedDataset) Len() int {
	return len(d.pairs)
}

// Pair returns the file pair at index i
func (d *PairedDataset) Pair(i int) Pair {
	return d.pairs[i]
}

// Pairs returns all file pairs
func (d *PairedDataset) Pairs() []Pair {
	return d.pairs
}

// Load decodes the pair at index i.  A pair that fails to decode or whose
// images differ in size is skipped in favour of the next index, and after
// maxLoadAttempts failures a mid-gray pair of the given size is returned.
func (d *PairedDataset) Load(i, fallbackSize int) (blur, sharp image.Image) {

	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		p := d.pairs[(i+attempt)%len(d.pairs)]

		b, s, err := loadPair(p)

		if err == nil {
			return b, s
		}

		d.log.Warn().Err(err).Str("pair", p.Name).Msg("Skipping unreadable image pair")
	}

	d.log.Error().Int("index", i).Msg("No readable pair found, using gray placeholder")

	gray := grayImage(fallbackSize)

	return gray, gray
}

// Split partitions the dataset into training and validation subsets using a
// seeded permutation so the split is identical across runs
func (d *PairedDataset) Split(valFraction float64, seed uint64) (trainSet, valSet *PairedDataset) {

	n := len(d.pairs)
	nVal := int(float64(n) * valFraction)

	if nVal == 0 && valFraction > 0 && n > 1 {
		nVal = 1
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	valPairs := make([]Pair, 0, nVal)
	trainPairs := make([]Pair, 0, n-nVal)

	for k, idx := range perm {
		if k < nVal {
			valPairs = append(valPairs, d.pairs[idx])
		} else {
			trainPairs = append(trainPairs, d.pairs[idx])
		}
	}

	return &PairedDataset{pairs: trainPairs, log: d.log},
		&PairedDataset{pairs: valPairs, log: d.log}
}

// loadPair decodes both images of a pair
func loadPair(p Pair) (image.Image, image.Image, error) {

	blur, err := decodeFile(p.Blur)

	if err != nil {
		return nil, nil, err
	}

	sharp, err := decodeFile(p.Sharp)

	if err != nil {
		return nil, nil, err
	}

	if blur.Bounds().Size() != sharp.Bounds().Size() {
		return nil, nil, fmt.Errorf("size mismatch %v vs %v", blur.Bounds().Size(), sharp.Bounds().Size())
	}

	return blur, sharp, nil
}

// decodeFile reads any registered image format
func decodeFile(path string) (image.Image, error) {

	f, err := os.Open(path)

	if err != nil {
		return nil, err
	}

	defer f.Close()

	img, _, err := image.Decode(f)

	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}

	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty image %s", path)
	}

	return img, nil
}

// grayImage returns a square mid-gray image
func grayImage(size int) *image.RGBA {

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, gray)
		}
	}

	return img
}
