package tensor

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// roundHalf rounds each value to the nearest representable IEEE half
// precision number in place.  Values beyond the half range become +/-Inf.
func roundHalf(data []float32) {
	for i, v := range data {
		data[i] = f16LookupTable[float16.Fromfloat32(v).Bits()]
	}
}

// ToHalf returns a copy of the tensor rounded to half precision
func ToHalf(t *Tensor) *Tensor {
	c := t.Clone()
	roundHalf(c.Data)
	return c
}
