package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/tensor"
)

// ErrInvalidImage is returned when an image has zero area or an unsupported
// pixel format
var ErrInvalidImage = errors.New("invalid image")

// DefaultStride is the alignment required by a four stage restoration network
const DefaultStride = 16

// Encoded records the geometry of one encode call so the matching decode can
// remove exactly the padding that was added.  It is returned by value and
// owned by the caller, so concurrent encode/decode pairs never share state.
type Encoded struct {
	// OrigH and OrigW are the image dimensions before padding
	OrigH int
	OrigW int
	// PadH and PadW are the tensor dimensions after padding
	PadH int
	PadW int
}

// Codec converts between 8 bit images and normalised NCHW tensors.  Tensors
// are in RGB channel order with values in [-1, 1].  Height and width are
// padded at the bottom and right up to a multiple of Stride by mirroring the
// image content.
type Codec struct {
	// Stride is the alignment height and width are padded up to
	Stride int
}

// NewCodec returns a codec padding to the given stride
func NewCodec(stride int) *Codec {

	if stride < 1 {
		stride = 1
	}

	return &Codec{Stride: stride}
}

// alignUp rounds n up to the next multiple of stride
func alignUp(n, stride int) int {
	return (n + stride - 1) / stride * stride
}

// Encode converts img into a padded [1,3,H',W'] tensor
func (c *Codec) Encode(img image.Image) (*tensor.Tensor, Encoded, error) {

	t, err := ImageToTensor(img)

	if err != nil {
		return nil, Encoded{}, err
	}

	return c.EncodeTensor(t)
}

// EncodeMat converts a BGR (or grayscale) gocv Mat into a padded tensor
func (c *Codec) EncodeMat(mat gocv.Mat) (*tensor.Tensor, Encoded, error) {

	t, err := MatToTensor(mat)

	if err != nil {
		return nil, Encoded{}, err
	}

	return c.EncodeTensor(t)
}

// EncodeTensor pads an unpadded [1,3,H,W] tensor up to the stride
func (c *Codec) EncodeTensor(t *tensor.Tensor) (*tensor.Tensor, Encoded, error) {

	if len(t.Shape) != 4 || t.Shape[2] == 0 || t.Shape[3] == 0 {
		return nil, Encoded{}, fmt.Errorf("%w: tensor shape %v", ErrInvalidImage, t.Shape)
	}

	_, _, h, w := t.Dims()

	enc := Encoded{
		OrigH: h,
		OrigW: w,
		PadH:  alignUp(h, c.Stride),
		PadW:  alignUp(w, c.Stride),
	}

	return ReflectPad(t, enc.PadH-h, enc.PadW-w), enc, nil
}

// Decode crops t back to the size recorded in enc and converts it to an RGBA
// image, clamping values to the valid range
func (c *Codec) Decode(t *tensor.Tensor, enc Encoded) (*image.RGBA, error) {

	cropped, err := c.DecodeTensor(t, enc)

	if err != nil {
		return nil, err
	}

	return TensorToImage(cropped)
}

// DecodeMat crops t back to the size recorded in enc and converts it to a BGR
// gocv Mat.  The caller must Close the returned Mat.
func (c *Codec) DecodeMat(t *tensor.Tensor, enc Encoded) (gocv.Mat, error) {

	cropped, err := c.DecodeTensor(t, enc)

	if err != nil {
		return gocv.NewMat(), err
	}

	return TensorToMat(cropped)
}

// DecodeTensor removes the padding recorded in enc
func (c *Codec) DecodeTensor(t *tensor.Tensor, enc Encoded) (*tensor.Tensor, error) {

	if len(t.Shape) != 4 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("%w: expected [1,3,H,W] tensor, got %v", ErrInvalidImage, t.Shape)
	}

	if t.Shape[2] != enc.PadH || t.Shape[3] != enc.PadW {
		return nil, fmt.Errorf("tensor %v does not match encoded size %dx%d",
			t.Shape, enc.PadH, enc.PadW)
	}

	return Crop(t, 0, 0, enc.OrigH, enc.OrigW), nil
}

// Normalize maps an 8 bit value to [-1, 1]
func Normalize(v uint8) float32 {
	return float32(v)/127.5 - 1
}

// Denormalize maps a value in [-1, 1] back to 8 bit, clamping out of range
// values and rounding to the nearest integer
func Denormalize(v float32) uint8 {

	x := (v + 1) * 127.5

	if math32.IsNaN(x) || x <= 0 {
		return 0
	}

	if x >= 255 {
		return 255
	}

	return uint8(x + 0.5)
}

// ImageToTensor converts an image into an unpadded [1,3,H,W] tensor
func ImageToTensor(img image.Image) (*tensor.Tensor, error) {

	if img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidImage
	}

	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	t := tensor.New(1, 3, h, w)
	plane := h * w

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]

			for x := 0; x < w; x++ {
				off := (x + b.Min.X - src.Rect.Min.X) * 4
				t.Data[y*w+x] = Normalize(row[off])
				t.Data[plane+y*w+x] = Normalize(row[off+1])
				t.Data[2*plane+y*w+x] = Normalize(row[off+2])
			}
		}

	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				t.Data[y*w+x] = Normalize(c.R)
				t.Data[plane+y*w+x] = Normalize(c.G)
				t.Data[2*plane+y*w+x] = Normalize(c.B)
			}
		}
	}

	return t, nil
}

// TensorToImage converts a [1,3,H,W] tensor into an RGBA image
func TensorToImage(t *tensor.Tensor) (*image.RGBA, error) {

	if len(t.Shape) != 4 || t.Shape[1] != 3 || t.Shape[2] == 0 || t.Shape[3] == 0 {
		return nil, fmt.Errorf("%w: tensor shape %v", ErrInvalidImage, t.Shape)
	}

	_, _, h, w := t.Dims()
	plane := h * w
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*img.Stride + x*4
			img.Pix[off] = Denormalize(t.Data[y*w+x])
			img.Pix[off+1] = Denormalize(t.Data[plane+y*w+x])
			img.Pix[off+2] = Denormalize(t.Data[2*plane+y*w+x])
			img.Pix[off+3] = 255
		}
	}

	return img, nil
}

// MatToTensor converts a BGR 8 bit Mat (3 channel) or grayscale Mat into an
// unpadded RGB [1,3,H,W] tensor
func MatToTensor(mat gocv.Mat) (*tensor.Tensor, error) {

	if mat.Empty() || mat.Rows() == 0 || mat.Cols() == 0 {
		return nil, ErrInvalidImage
	}

	src := mat

	switch mat.Type() {
	case gocv.MatTypeCV8UC3:
		if !mat.IsContinuous() {
			// regions of a larger Mat are not contiguous in memory
			src = mat.Clone()
			defer src.Close()
		}
	case gocv.MatTypeCV8UC1:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(mat, &src, gocv.ColorGrayToBGR)
	case gocv.MatTypeCV8UC4:
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(mat, &src, gocv.ColorBGRAToBGR)
	default:
		return nil, fmt.Errorf("%w: unsupported mat type %v", ErrInvalidImage, mat.Type())
	}

	h, w := src.Rows(), src.Cols()
	data := src.ToBytes()
	t := tensor.New(1, 3, h, w)
	plane := h * w

	for i := 0; i < plane; i++ {
		// BGR to RGB
		t.Data[i] = Normalize(data[i*3+2])
		t.Data[plane+i] = Normalize(data[i*3+1])
		t.Data[2*plane+i] = Normalize(data[i*3])
	}

	return t, nil
}

// TensorToMat converts a [1,3,H,W] RGB tensor into a BGR 8 bit Mat.  The
// caller must Close the returned Mat.
func TensorToMat(t *tensor.Tensor) (gocv.Mat, error) {

	if len(t.Shape) != 4 || t.Shape[1] != 3 || t.Shape[2] == 0 || t.Shape[3] == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: tensor shape %v", ErrInvalidImage, t.Shape)
	}

	_, _, h, w := t.Dims()
	plane := h * w
	data := make([]byte, plane*3)

	for i := 0; i < plane; i++ {
		data[i*3] = Denormalize(t.Data[2*plane+i])
		data[i*3+1] = Denormalize(t.Data[plane+i])
		data[i*3+2] = Denormalize(t.Data[i])
	}

	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
}

// reflectIndex maps i onto [0, n) by mirroring about the edges without
// repeating the edge pixel.  Offsets further than n-1 past an edge keep
// bouncing between the two borders.
func reflectIndex(i, n int) int {

	if n == 1 {
		return 0
	}

	period := 2 * (n - 1)
	i %= period

	if i < 0 {
		i += period
	}

	if i >= n {
		i = period - i
	}

	return i
}

// ReflectPad extends t [N,C,H,W] by padH rows at the bottom and padW columns
// on the right using mirror reflection
func ReflectPad(t *tensor.Tensor, padH, padW int) *tensor.Tensor {

	if padH == 0 && padW == 0 {
		return t
	}

	n, c, h, w := t.Dims()
	out := tensor.New(n, c, h+padH, w+padW)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h+padH; y++ {
				sy := reflectIndex(y, h)

				for x := 0; x < w+padW; x++ {
					out.Set(b, ch, y, x, t.At(b, ch, sy, reflectIndex(x, w)))
				}
			}
		}
	}

	return out
}

// Crop returns the h x w window of t [N,C,H,W] starting at row y0, column x0
func Crop(t *tensor.Tensor, y0, x0, h, w int) *tensor.Tensor {

	n, c, _, _ := t.Dims()
	out := tensor.New(n, c, h, w)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				src := t.Index(b, ch, y0+y, x0)
				dst := out.Index(b, ch, y, 0)
				copy(out.Data[dst:dst+w], t.Data[src:src+w])
			}
		}
	}

	return out
}
