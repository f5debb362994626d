package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/tensor"
)

// gradientImage returns an image whose pixels are all distinct enough to
// detect misplaced padding
func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x + y), A: 255})
		}
	}

	return img
}

func TestEncodePadsToStride(t *testing.T) {

	tests := []struct {
		w, h       int
		stride     int
		padW, padH int
	}{
		{30, 17, 16, 32, 32},
		{16, 16, 16, 16, 16},
		{1, 1, 16, 16, 16},
		{33, 5, 8, 40, 8},
	}

	codec := NewCodec(0)

	for _, tc := range tests {
		codec.Stride = tc.stride

		tt, enc, err := codec.Encode(gradientImage(tc.w, tc.h))
		require.NoError(t, err)

		assert.Equal(t, []int{1, 3, tc.padH, tc.padW}, tt.Shape)
		assert.Equal(t, Encoded{OrigH: tc.h, OrigW: tc.w, PadH: tc.padH, PadW: tc.padW}, enc)
	}
}

func TestPaddingRoundTrip(t *testing.T) {

	codec := NewCodec(DefaultStride)
	src := gradientImage(37, 21)

	tt, enc, err := codec.Encode(src)
	require.NoError(t, err)

	out, err := codec.Decode(tt, enc)
	require.NoError(t, err)

	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, src.Pix, out.Pix)
}

func TestPaddingIsReflected(t *testing.T) {

	codec := NewCodec(4)
	src := gradientImage(3, 2)

	tt, _, err := codec.Encode(src)
	require.NoError(t, err)

	// row 2 mirrors row 0 and column 3 mirrors column 1
	for x := 0; x < 4; x++ {
		assert.Equal(t, tt.At(0, 0, 0, x), tt.At(0, 0, 2, x))
	}

	for y := 0; y < 4; y++ {
		assert.Equal(t, tt.At(0, 0, y, 1), tt.At(0, 0, y, 3))
	}
}

func TestReflectIndex(t *testing.T) {

	tests := []struct {
		i, n, expect int
	}{
		{0, 4, 0},
		{3, 4, 3},
		{4, 4, 2},
		{5, 4, 1},
		{6, 4, 0},
		{7, 4, 1},
		{9, 1, 0},
		{-1, 4, 1},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, reflectIndex(tc.i, tc.n), "i=%d n=%d", tc.i, tc.n)
	}
}

func TestNormalizeRange(t *testing.T) {

	assert.Equal(t, float32(-1), Normalize(0))
	assert.Equal(t, float32(1), Normalize(255))

	for v := 0; v < 256; v++ {
		assert.Equal(t, uint8(v), Denormalize(Normalize(uint8(v))))
	}

	assert.Equal(t, uint8(0), Denormalize(-3))
	assert.Equal(t, uint8(255), Denormalize(2.5))
}

func TestEncodeRejectsEmpty(t *testing.T) {

	codec := NewCodec(DefaultStride)

	_, _, err := codec.Encode(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	assert.ErrorIs(t, err, ErrInvalidImage)

	mat := gocv.NewMat()
	defer mat.Close()

	_, _, err = codec.EncodeMat(mat)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsWrongSize(t *testing.T) {

	codec := NewCodec(DefaultStride)

	_, err := codec.Decode(tensor.New(1, 3, 16, 16), Encoded{OrigH: 10, OrigW: 10, PadH: 32, PadW: 16})
	assert.Error(t, err)
}

func TestMatRoundTripKeepsBGR(t *testing.T) {

	codec := NewCodec(DefaultStride)

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 9, 13, gocv.MatTypeCV8UC3)
	defer mat.Close()

	tt, enc, err := codec.EncodeMat(mat)
	require.NoError(t, err)

	// blue channel of the Mat lands in the last tensor channel
	assert.InDelta(t, Normalize(30), tt.At(0, 0, 0, 0), 1e-6)
	assert.InDelta(t, Normalize(10), tt.At(0, 2, 0, 0), 1e-6)

	out, err := codec.DecodeMat(tt, enc)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 9, out.Rows())
	assert.Equal(t, 13, out.Cols())
	assert.Equal(t, mat.ToBytes(), out.ToBytes())
}
