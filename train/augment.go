package train

import (
	"math/rand/v2"

	"github.com/swdee/go-wagonocr/preprocess"
	"github.com/swdee/go-wagonocr/tensor"
)

// DefaultPatchSize is the square training crop size
const DefaultPatchSize = 256

// Augmenter produces fixed size training patches from image pairs.  Every
// random choice is drawn once per pair and applied to both images so the
// blurred input stays aligned with its sharp target.
type Augmenter struct {
	Patch int
	rng   *rand.Rand
}

// NewAugmenter returns an augmenter producing patch x patch crops
func NewAugmenter(patch int, seed uint64) *Augmenter {

	if patch <= 0 {
		patch = DefaultPatchSize
	}

	return &Augmenter{
		Patch: patch,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Train applies a random crop, horizontal and vertical flips and a rotation
// by a multiple of 90 degrees to a [1,3,H,W] pair
func (a *Augmenter) Train(blur, sharp *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {

	blur = padToPatch(blur, a.Patch)
	sharp = padToPatch(sharp, a.Patch)

	_, _, h, w := blur.Dims()
	y0, x0 := 0, 0

	if h > a.Patch {
		y0 = a.rng.IntN(h - a.Patch + 1)
	}

	if w > a.Patch {
		x0 = a.rng.IntN(w - a.Patch + 1)
	}

	blur = preprocess.Crop(blur, y0, x0, a.Patch, a.Patch)
	sharp = preprocess.Crop(sharp, y0, x0, a.Patch, a.Patch)

	if a.rng.IntN(2) == 1 {
		blur, sharp = FlipH(blur), FlipH(sharp)
	}

	if a.rng.IntN(2) == 1 {
		blur, sharp = FlipV(blur), FlipV(sharp)
	}

	if k := a.rng.IntN(4); k > 0 {
		blur, sharp = Rot90(blur, k), Rot90(sharp, k)
	}

	return blur, sharp
}

// Validate returns the deterministic centre crop of a pair
func (a *Augmenter) Validate(blur, sharp *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	return CenterCrop(blur, a.Patch), CenterCrop(sharp, a.Patch)
}

// CenterCrop returns the central size x size window, reflect padding first
// when the image is smaller
func CenterCrop(t *tensor.Tensor, size int) *tensor.Tensor {

	t = padToPatch(t, size)
	_, _, h, w := t.Dims()

	return preprocess.Crop(t, (h-size)/2, (w-size)/2, size, size)
}

// padToPatch reflect pads t so both sides are at least size
func padToPatch(t *tensor.Tensor, size int) *tensor.Tensor {

	_, _, h, w := t.Dims()

	return preprocess.ReflectPad(t, max(0, size-h), max(0, size-w))
}

// FlipH mirrors t [N,C,H,W] left to right
func FlipH(t *tensor.Tensor) *tensor.Tensor {

	n, c, h, w := t.Dims()
	out := tensor.New(n, c, h, w)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					out.Set(b, ch, y, x, t.At(b, ch, y, w-1-x))
				}
			}
		}
	}

	return out
}

// FlipV mirrors t [N,C,H,W] top to bottom
func FlipV(t *tensor.Tensor) *tensor.Tensor {

	n, c, h, w := t.Dims()
	out := tensor.New(n, c, h, w)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				src := t.Index(b, ch, h-1-y, 0)
				dst := out.Index(b, ch, y, 0)
				copy(out.Data[dst:dst+w], t.Data[src:src+w])
			}
		}
	}

	return out
}

// Rot90 rotates t [N,C,H,W] counter clockwise by k quarter turns
func Rot90(t *tensor.Tensor, k int) *tensor.Tensor {

	k = ((k % 4) + 4) % 4

	for i := 0; i < k; i++ {
		t = rot90Once(t)
	}

	return t
}

// rot90Once rotates by one quarter turn, out[y][x] = in[x][W-1-y]
func rot90Once(t *tensor.Tensor) *tensor.Tensor {

	n, c, h, w := t.Dims()
	out := tensor.New(n, c, w, h)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < w; y++ {
				for x := 0; x < h; x++ {
					out.Set(b, ch, y, x, t.At(b, ch, x, w-1-y))
				}
			}
		}
	}

	return out
}
