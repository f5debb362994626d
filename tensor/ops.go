package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
)

// mustSameShape panics when two operands of an elementwise op differ
func mustSameShape(op string, a, b *Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape, b.Shape))
	}
}

// Add returns a + b for tensors of identical shape
func Add(g *Graph, a, b *Var) *Var {

	mustSameShape("add", a.Value, b.Value)

	out := a.Value.Clone()
	out.AddInPlace(b.Value)

	return g.result(out, func(o *Var) {
		AccumulateGrad(a, o.Grad)
		AccumulateGrad(b, o.Grad)
	}, a, b)
}

// Sub returns a - b for tensors of identical shape
func Sub(g *Graph, a, b *Var) *Var {

	mustSameShape("sub", a.Value, b.Value)

	out := a.Value.Clone()

	for i, v := range b.Value.Data {
		out.Data[i] -= v
	}

	return g.result(out, func(o *Var) {
		AccumulateGrad(a, o.Grad)

		if db := GradBuffer(b); db != nil {
			for i, v := range o.Grad.Data {
				db.Data[i] -= v
			}
		}
	}, a, b)
}

// SimpleGate splits the channels of x [N,2C,H,W] into two halves and returns
// their elementwise product [N,C,H,W]
func SimpleGate(g *Graph, x *Var) *Var {

	n, c2, h, w := x.Value.Dims()

	if c2%2 != 0 {
		panic(fmt.Sprintf("simplegate: odd channel count %d", c2))
	}

	c := c2 / 2
	plane := c * h * w
	out := New(n, c, h, w)

	for b := 0; b < n; b++ {
		x1 := x.Value.Data[b*2*plane : b*2*plane+plane]
		x2 := x.Value.Data[b*2*plane+plane : (b+1)*2*plane]
		dst := out.Data[b*plane : (b+1)*plane]

		for i := range dst {
			dst[i] = x1[i] * x2[i]
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)

		for b := 0; b < n; b++ {
			x1 := x.Value.Data[b*2*plane : b*2*plane+plane]
			x2 := x.Value.Data[b*2*plane+plane : (b+1)*2*plane]
			d1 := dx.Data[b*2*plane : b*2*plane+plane]
			d2 := dx.Data[b*2*plane+plane : (b+1)*2*plane]
			dy := o.Grad.Data[b*plane : (b+1)*plane]

			for i, v := range dy {
				d1[i] += v * x2[i]
				d2[i] += v * x1[i]
			}
		}
	}, x)
}

// GroupNorm normalises each sample over all of its channels and pixels (a
// single group) and applies a per channel affine transform with weight and
// bias of shape [C]
func GroupNorm(g *Graph, x, weight, bias *Var, eps float32) *Var {

	n, c, h, w := x.Value.Dims()
	hw := h * w
	size := c * hw

	out := New(n, c, h, w)
	xhat := make([]float32, n*size)
	rstd := make([]float32, n)

	for b := 0; b < n; b++ {
		src := x.Value.Data[b*size : (b+1)*size]

		var mean, variance float64

		for _, v := range src {
			mean += float64(v)
		}

		mean /= float64(size)

		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}

		variance /= float64(size)
		rs := float32(1 / (math32.Sqrt(float32(variance) + eps)))
		rstd[b] = rs

		for ch := 0; ch < c; ch++ {
			gamma := weight.Value.Data[ch]
			beta := bias.Value.Data[ch]

			for i := ch * hw; i < (ch+1)*hw; i++ {
				xh := (src[i] - float32(mean)) * rs
				xhat[b*size+i] = xh
				out.Data[b*size+i] = xh*gamma + beta
			}
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)
		dw := GradBuffer(weight)
		db := GradBuffer(bias)

		dxhat := make([]float32, size)

		for b := 0; b < n; b++ {
			dy := o.Grad.Data[b*size : (b+1)*size]
			xh := xhat[b*size : (b+1)*size]

			var sumD, sumDX float64

			for ch := 0; ch < c; ch++ {
				gamma := weight.Value.Data[ch]

				for i := ch * hw; i < (ch+1)*hw; i++ {
					dxhat[i] = dy[i] * gamma
					sumD += float64(dxhat[i])
					sumDX += float64(dxhat[i] * xh[i])

					if dw != nil {
						dw.Data[ch] += dy[i] * xh[i]
					}

					if db != nil {
						db.Data[ch] += dy[i]
					}
				}
			}

			if dx == nil {
				continue
			}

			m := float32(size)
			scale := rstd[b] / m
			dst := dx.Data[b*size : (b+1)*size]

			for i := range dst {
				dst[i] += scale * (m*dxhat[i] - float32(sumD) - xh[i]*float32(sumDX))
			}
		}
	}, x, weight, bias)
}

// GlobalAvgPool averages each channel plane of x [N,C,H,W] giving [N,C,1,1]
func GlobalAvgPool(g *Graph, x *Var) *Var {

	n, c, h, w := x.Value.Dims()
	hw := h * w
	out := New(n, c, 1, 1)

	for i := 0; i < n*c; i++ {
		var s float32

		for _, v := range x.Value.Data[i*hw : (i+1)*hw] {
			s += v
		}

		out.Data[i] = s / float32(hw)
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)
		inv := 1 / float32(hw)

		for i := 0; i < n*c; i++ {
			d := o.Grad.Data[i] * inv
			dst := dx.Data[i*hw : (i+1)*hw]

			for j := range dst {
				dst[j] += d
			}
		}
	}, x)
}

// MulChannel multiplies x [N,C,H,W] by s [N,C,1,1] broadcast over pixels
func MulChannel(g *Graph, x, s *Var) *Var {

	n, c, h, w := x.Value.Dims()
	hw := h * w

	if s.Value.Len() != n*c {
		panic(fmt.Sprintf("mulchannel: scale %v does not match %v", s.Value.Shape, x.Value.Shape))
	}

	out := New(n, c, h, w)

	for i := 0; i < n*c; i++ {
		sv := s.Value.Data[i]
		src := x.Value.Data[i*hw : (i+1)*hw]
		dst := out.Data[i*hw : (i+1)*hw]

		for j, v := range src {
			dst[j] = v * sv
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)
		ds := GradBuffer(s)

		for i := 0; i < n*c; i++ {
			sv := s.Value.Data[i]
			src := x.Value.Data[i*hw : (i+1)*hw]
			dy := o.Grad.Data[i*hw : (i+1)*hw]

			var acc float32

			for j, d := range dy {
				if dx != nil {
					dx.Data[i*hw+j] += d * sv
				}
				acc += d * src[j]
			}

			if ds != nil {
				ds.Data[i] += acc
			}
		}
	}, x, s)
}

// AddScaled returns x + y*scale where scale has shape [1,C,1,1] and is
// broadcast over batch and pixels
func AddScaled(g *Graph, x, y, scale *Var) *Var {

	mustSameShape("addscaled", x.Value, y.Value)

	n, c, h, w := x.Value.Dims()
	hw := h * w

	if scale.Value.Len() != c {
		panic(fmt.Sprintf("addscaled: scale %v does not match %v", scale.Value.Shape, x.Value.Shape))
	}

	out := x.Value.Clone()

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			sv := scale.Value.Data[ch]
			off := (b*c + ch) * hw

			for j := off; j < off+hw; j++ {
				out.Data[j] += y.Value.Data[j] * sv
			}
		}
	}

	return g.result(out, func(o *Var) {
		AccumulateGrad(x, o.Grad)

		dy := GradBuffer(y)
		ds := GradBuffer(scale)

		for b := 0; b < n; b++ {
			for ch := 0; ch < c; ch++ {
				sv := scale.Value.Data[ch]
				off := (b*c + ch) * hw

				var acc float32

				for j := off; j < off+hw; j++ {
					d := o.Grad.Data[j]

					if dy != nil {
						dy.Data[j] += d * sv
					}
					acc += d * y.Value.Data[j]
				}

				if ds != nil {
					ds.Data[ch] += acc
				}
			}
		}
	}, x, y, scale)
}

// PixelShuffle rearranges x [N,C*r*r,H,W] into [N,C,H*r,W*r]
func PixelShuffle(g *Graph, x *Var, r int) *Var {

	n, crr, h, w := x.Value.Dims()

	if crr%(r*r) != 0 {
		panic(fmt.Sprintf("pixelshuffle: %d channels not divisible by %d", crr, r*r))
	}

	c := crr / (r * r)
	out := New(n, c, h*r, w*r)

	// index maps each output element to its source element
	index := make([]int, out.Len())

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for i := 0; i < r; i++ {
				for j := 0; j < r; j++ {
					srcC := ch*r*r + i*r + j

					for y := 0; y < h; y++ {
						for xx := 0; xx < w; xx++ {
							dst := out.Index(b, ch, y*r+i, xx*r+j)
							src := x.Value.Index(b, srcC, y, xx)
							index[dst] = src
							out.Data[dst] = x.Value.Data[src]
						}
					}
				}
			}
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)

		for dst, src := range index {
			dx.Data[src] += o.Grad.Data[dst]
		}
	}, x)
}

// ReLU returns max(x, 0)
func ReLU(g *Graph, x *Var) *Var {

	out := x.Value.Clone()

	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)

		for i, v := range x.Value.Data {
			if v > 0 {
				dx.Data[i] += o.Grad.Data[i]
			}
		}
	}, x)
}

// MaxPool2d applies a non overlapping k x k max pooling
func MaxPool2d(g *Graph, x *Var, k int) *Var {

	n, c, h, w := x.Value.Dims()
	ho, wo := h/k, w/k
	out := New(n, c, ho, wo)
	argmax := make([]int, out.Len())

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					best := x.Value.Index(b, ch, oy*k, ox*k)

					for i := 0; i < k; i++ {
						for j := 0; j < k; j++ {
							idx := x.Value.Index(b, ch, oy*k+i, ox*k+j)

							if x.Value.Data[idx] > x.Value.Data[best] {
								best = idx
							}
						}
					}

					o := out.Index(b, ch, oy, ox)
					argmax[o] = best
					out.Data[o] = x.Value.Data[best]
				}
			}
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)

		for i, src := range argmax {
			dx.Data[src] += o.Grad.Data[i]
		}
	}, x)
}

// ChannelAffine applies the constant per channel transform x*scale[c]+shift[c]
func ChannelAffine(g *Graph, x *Var, scale, shift []float32) *Var {

	n, c, h, w := x.Value.Dims()
	hw := h * w
	out := New(n, c, h, w)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			off := (b*c + ch) * hw

			for j := off; j < off+hw; j++ {
				out.Data[j] = x.Value.Data[j]*scale[ch] + shift[ch]
			}
		}
	}

	return g.result(out, func(o *Var) {
		dx := GradBuffer(x)

		for b := 0; b < n; b++ {
			for ch := 0; ch < c; ch++ {
				off := (b*c + ch) * hw

				for j := off; j < off+hw; j++ {
					dx.Data[j] += o.Grad.Data[j] * scale[ch]
				}
			}
		}
	}, x)
}
