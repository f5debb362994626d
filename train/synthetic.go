package train

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Synthetic blur defaults, horizontal motion as seen from a trackside camera
const (
	DefaultMinKernel  = 15
	DefaultMaxKernel  = 45
	DefaultMaxAngle   = 10
	DefaultNoiseSigma = 2
	DefaultMaxSide    = 1024
)

// BlurParams records the motion applied to one image
type BlurParams struct {
	KernelSize int
	Angle      float64
}

// MotionKernel returns a normalised size x size kernel holding a line through
// the centre at angle degrees from horizontal.  size is forced odd.
func MotionKernel(size int, angle float64) []float32 {

	if size < 1 {
		size = 1
	}

	if size%2 == 0 {
		size++
	}

	k := make([]float32, size*size)
	c := size / 2
	tan := math.Tan(angle * math.Pi / 180)

	if math.Abs(tan) < 1 {
		for x := 0; x < size; x++ {
			y := int(float64(c) + float64(x-c)*tan)

			if y >= 0 && y < size {
				k[y*size+x] = 1
			}
		}
	} else {
		cot := 1 / tan

		for y := 0; y < size; y++ {
			x := int(float64(c) + float64(y-c)*cot)

			if x >= 0 && x < size {
				k[y*size+x] = 1
			}
		}
	}

	var sum float32

	for _, v := range k {
		sum += v
	}

	for i := range k {
		k[i] /= sum
	}

	return k
}

// MotionBlur convolves src with a linear motion kernel.  The caller must
// Close the returned Mat.
func MotionBlur(src gocv.Mat, size int, angle float64) gocv.Mat {

	k := MotionKernel(size, angle)
	n := int(math.Sqrt(float64(len(k))))

	kernel := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), n, n, gocv.MatTypeCV32F)
	defer kernel.Close()

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			kernel.SetFloatAt(y, x, k[y*n+x])
		}
	}

	dst := gocv.NewMat()
	gocv.Filter2D(src, &dst, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderReflect101)

	return dst
}

// Synthesizer generates blurred copies of sharp images with random motion
type Synthesizer struct {
	MinKernel int
	MaxKernel int
	// MaxAngle bounds the motion direction to +/- degrees from horizontal
	MaxAngle float64
	// NoiseSigma is the standard deviation of additive Gaussian sensor noise
	NoiseSigma float64
	// MaxSide downscales larger images so their longest side fits
	MaxSide int
	rng     *rand.Rand
}

// NewSynthesizer returns a synthesizer with the default ranges
func NewSynthesizer(seed uint64) *Synthesizer {
	return &Synthesizer{
		MinKernel:  DefaultMinKernel,
		MaxKernel:  DefaultMaxKernel,
		MaxAngle:   DefaultMaxAngle,
		NoiseSigma: DefaultNoiseSigma,
		MaxSide:    DefaultMaxSide,
		rng:        rand.New(rand.NewPCG(seed, seed+3)),
	}
}

// Params draws random blur parameters
func (s *Synthesizer) Params() BlurParams {

	size := s.MinKernel

	if s.MaxKernel > s.MinKernel {
		size += s.rng.IntN(s.MaxKernel - s.MinKernel)
	}

	if size%2 == 0 {
		size++
	}

	angle := (s.rng.Float64()*2 - 1) * s.MaxAngle

	return BlurParams{KernelSize: size, Angle: angle}
}

// Blur returns a motion blurred and noisy copy of src with the parameters
// used.  The caller must Close the returned Mat.
func (s *Synthesizer) Blur(src gocv.Mat) (gocv.Mat, BlurParams, error) {

	if src.Empty() {
		return gocv.NewMat(), BlurParams{}, fmt.Errorf("empty image")
	}

	p := s.Params()
	blurred := MotionBlur(src, p.KernelSize, p.Angle)

	if s.NoiseSigma <= 0 {
		return blurred, p, nil
	}

	defer blurred.Close()

	data := blurred.ToBytes()

	for i, v := range data {
		n := float64(v) + s.rng.NormFloat64()*s.NoiseSigma
		data[i] = uint8(math.Max(0, math.Min(255, math.Round(n))))
	}

	noisy, err := gocv.NewMatFromBytes(blurred.Rows(), blurred.Cols(), blurred.Type(), data)

	if err != nil {
		return gocv.NewMat(), p, fmt.Errorf("error creating noisy mat: %w", err)
	}

	return noisy, p, nil
}

// fit downscales img in place so its longest side is at most maxSide
func fit(img *gocv.Mat, maxSide int) {

	longest := max(img.Rows(), img.Cols())

	if maxSide <= 0 || longest <= maxSide {
		return
	}

	scale := float64(maxSide) / float64(longest)
	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, image.Pt(0, 0), scale, scale, gocv.InterpolationArea)

	img.Close()
	*img = resized
}

// CreateSyntheticPairs reads every sharp image in inDir and writes the
// dataset layout outRoot/sharp and outRoot/blurred with matching file names.
// Unreadable images are skipped.  The number of pairs written is returned.
func CreateSyntheticPairs(inDir, outRoot string, s *Synthesizer, logger *zerolog.Logger) (int, error) {

	l := log.Logger

	if logger != nil {
		l = *logger
	}

	entries, err := os.ReadDir(inDir)

	if err != nil {
		return 0, fmt.Errorf("error reading input dir: %w", err)
	}

	sharpDir := filepath.Join(outRoot, "sharp")
	blurDir := filepath.Join(outRoot, "blurred")

	for _, d := range []string{sharpDir, blurDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return 0, fmt.Errorf("error creating %s: %w", d, err)
		}
	}

	var names []string

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))

		if !e.IsDir() && (ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".bmp") {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)
	count := 0

	for _, name := range names {
		img := gocv.IMRead(filepath.Join(inDir, name), gocv.IMReadColor)

		if img.Empty() {
			l.Warn().Str("file", name).Msg("Skipping unreadable image")
			img.Close()
			continue
		}

		fit(&img, s.MaxSide)

		blurred, p, err := s.Blur(img)

		if err != nil {
			l.Warn().Err(err).Str("file", name).Msg("Skipping image")
			img.Close()
			continue
		}

		okSharp := gocv.IMWrite(filepath.Join(sharpDir, name), img)
		okBlur := gocv.IMWrite(filepath.Join(blurDir, name), blurred)

		img.Close()
		blurred.Close()

		if !okSharp || !okBlur {
			return count, fmt.Errorf("error writing pair %s", name)
		}

		l.Debug().Str("file", name).Int("kernel", p.KernelSize).
			Float64("angle", p.Angle).Msg("Created synthetic pair")

		count++
	}

	return count, nil
}
