package tensor

import (
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
)

// Tensor is a dense float32 array stored in row major order.  Image data is
// held in NCHW (batch, channel, height, width) layout.
type Tensor struct {
	// Shape are the dimensions of the tensor
	Shape []int
	// Data is the flat backing store, len(Data) equals the product of Shape
	Data []float32
}

// New returns a zero filled tensor with the given shape
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numel(shape)),
	}
}

// FromData wraps data in a tensor of the given shape
func FromData(data []float32, shape ...int) (*Tensor, error) {

	if len(data) != numel(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

// Full returns a tensor with every element set to val
func Full(val float32, shape ...int) *Tensor {
	t := New(shape...)

	for i := range t.Data {
		t.Data[i] = val
	}

	return t
}

// RandNormal returns a tensor filled with samples from N(0, std^2)
func RandNormal(rng *rand.Rand, std float32, shape ...int) *Tensor {
	t := New(shape...)

	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * std
	}

	return t
}

func numel(shape []int) int {
	n := 1

	for _, d := range shape {
		n *= d
	}

	return n
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Dims returns the N, C, H, W dimensions of a 4D tensor
func (t *Tensor) Dims() (n, c, h, w int) {
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// ZerosLike returns a zero tensor with the same shape
func (t *Tensor) ZerosLike() *Tensor {
	return New(t.Shape...)
}

// SameShape reports whether both tensors have identical dimensions
func (t *Tensor) SameShape(o *Tensor) bool {

	if len(t.Shape) != len(o.Shape) {
		return false
	}

	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}

	return true
}

// Index returns the flat offset of element n,c,h,w in a 4D tensor
func (t *Tensor) Index(n, c, h, w int) int {
	return ((n*t.Shape[1]+c)*t.Shape[2]+h)*t.Shape[3] + w
}

// At returns element n,c,h,w of a 4D tensor
func (t *Tensor) At(n, c, h, w int) float32 {
	return t.Data[t.Index(n, c, h, w)]
}

// Set assigns element n,c,h,w of a 4D tensor
func (t *Tensor) Set(n, c, h, w int, v float32) {
	t.Data[t.Index(n, c, h, w)] = v
}

// Sample returns a view of batch item n as a 1xCxHxW tensor sharing storage
func (t *Tensor) Sample(n int) *Tensor {
	size := t.Shape[1] * t.Shape[2] * t.Shape[3]

	return &Tensor{
		Shape: []int{1, t.Shape[1], t.Shape[2], t.Shape[3]},
		Data:  t.Data[n*size : (n+1)*size],
	}
}

// Fill sets every element to val
func (t *Tensor) Fill(val float32) {
	for i := range t.Data {
		t.Data[i] = val
	}
}

// AddInPlace accumulates o into t
func (t *Tensor) AddInPlace(o *Tensor) {
	for i, v := range o.Data {
		t.Data[i] += v
	}
}

// Scale multiplies every element by s
func (t *Tensor) Scale(s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// Sum returns the sum of all elements
func (t *Tensor) Sum() float32 {
	var s float64

	for _, v := range t.Data {
		s += float64(v)
	}

	return float32(s)
}

// MaxAbsDiff returns the largest absolute element difference between t and o
func (t *Tensor) MaxAbsDiff(o *Tensor) float32 {
	var m float32

	for i, v := range t.Data {
		if d := math32.Abs(v - o.Data[i]); d > m {
			m = d
		}
	}

	return m
}

// IsFinite reports whether every element is neither NaN nor Inf
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// String returns a short description of the tensor
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// Stack concatenates tensors of identical [C,H,W] along the batch axis
func Stack(items []*Tensor) (*Tensor, error) {

	if len(items) == 0 {
		return nil, fmt.Errorf("stack: no tensors given")
	}

	_, c, h, w := items[0].Dims()
	total := 0

	for i, it := range items {
		n, ic, ih, iw := it.Dims()

		if ic != c || ih != h || iw != w {
			return nil, fmt.Errorf("stack: item %d has shape %v, expected %v", i, it.Shape, items[0].Shape)
		}

		total += n
	}

	out := New(total, c, h, w)
	off := 0

	for _, it := range items {
		off += copy(out.Data[off:], it.Data)
	}

	return out, nil
}
