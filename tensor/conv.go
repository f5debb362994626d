package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvParams defines the geometry of a 2D convolution
type ConvParams struct {
	// Stride is the step between kernel applications in both axes
	Stride int
	// Pad is the number of zero pixels added to every border
	Pad int
	// Groups splits input and output channels into independent groups.  A
	// value equal to the input channel count gives a depthwise convolution
	Groups int
}

// convGeom holds the derived sizes of a convolution
type convGeom struct {
	n, cin, h, w int
	cout, kh, kw int
	groups       int
	cinG, coutG  int
	ho, wo       int
	k, l         int
	stride, pad  int
	pointwise    bool
}

func newConvGeom(x, w *Tensor, p ConvParams) convGeom {

	if p.Stride < 1 {
		p.Stride = 1
	}

	if p.Groups < 1 {
		p.Groups = 1
	}

	n, cin, h, wd := x.Dims()
	cout, cinG, kh, kw := w.Dims()

	if cin%p.Groups != 0 || cout%p.Groups != 0 || cin/p.Groups != cinG {
		panic(fmt.Sprintf("conv2d: input %v incompatible with weight %v and %d groups",
			x.Shape, w.Shape, p.Groups))
	}

	ho := (h+2*p.Pad-kh)/p.Stride + 1
	wo := (wd+2*p.Pad-kw)/p.Stride + 1

	if ho < 1 || wo < 1 {
		panic(fmt.Sprintf("conv2d: input %v too small for kernel %dx%d", x.Shape, kh, kw))
	}

	return convGeom{
		n:         n,
		cin:       cin,
		h:         h,
		w:         wd,
		cout:      cout,
		kh:        kh,
		kw:        kw,
		groups:    p.Groups,
		cinG:      cinG,
		coutG:     cout / p.Groups,
		ho:        ho,
		wo:        wo,
		k:         cinG * kh * kw,
		l:         ho * wo,
		stride:    p.Stride,
		pad:       p.Pad,
		pointwise: kh == 1 && kw == 1 && p.Stride == 1 && p.Pad == 0,
	}
}

// Conv2d applies a 2D cross-correlation of x [N,Cin,H,W] with weight
// [Cout,Cin/Groups,KH,KW] plus an optional bias [Cout].  The bias may be nil.
func Conv2d(g *Graph, x, weight, bias *Var, p ConvParams) *Var {

	geo := newConvGeom(x.Value, weight.Value, p)
	out := New(geo.n, geo.cout, geo.ho, geo.wo)

	var cols []float32

	if !geo.pointwise {
		cols = make([]float32, geo.k*geo.l)
	}

	inSize := geo.cin * geo.h * geo.w
	groupIn := geo.cinG * geo.h * geo.w

	for n := 0; n < geo.n; n++ {
		for gi := 0; gi < geo.groups; gi++ {

			src := x.Value.Data[n*inSize+gi*groupIn : n*inSize+(gi+1)*groupIn]
			colData := src

			if !geo.pointwise {
				im2col(src, geo, cols)
				colData = cols
			}

			wOff := gi * geo.coutG * geo.k
			oOff := (n*geo.cout + gi*geo.coutG) * geo.l

			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
				general(weight.Value.Data[wOff:wOff+geo.coutG*geo.k], geo.coutG, geo.k),
				general(colData, geo.k, geo.l),
				0,
				general(out.Data[oOff:oOff+geo.coutG*geo.l], geo.coutG, geo.l))
		}

		if bias != nil {
			for c := 0; c < geo.cout; c++ {
				b := bias.Value.Data[c]
				row := out.Data[(n*geo.cout+c)*geo.l : (n*geo.cout+c+1)*geo.l]

				for i := range row {
					row[i] += b
				}
			}
		}
	}

	return g.result(out, func(o *Var) {
		convBackward(geo, x, weight, bias, o.Grad)
	}, x, weight, bias)
}

// convBackward accumulates gradients for input, weight and bias
func convBackward(geo convGeom, x, weight, bias *Var, dOut *Tensor) {

	dx := GradBuffer(x)
	dw := GradBuffer(weight)

	var db *Tensor

	if bias != nil {
		db = GradBuffer(bias)
	}

	var cols, dcols []float32

	if !geo.pointwise {
		cols = make([]float32, geo.k*geo.l)
		dcols = make([]float32, geo.k*geo.l)
	}

	inSize := geo.cin * geo.h * geo.w
	groupIn := geo.cinG * geo.h * geo.w

	for n := 0; n < geo.n; n++ {
		for gi := 0; gi < geo.groups; gi++ {

			inOff := n*inSize + gi*groupIn
			oOff := (n*geo.cout + gi*geo.coutG) * geo.l
			wOff := gi * geo.coutG * geo.k

			dOutG := general(dOut.Data[oOff:oOff+geo.coutG*geo.l], geo.coutG, geo.l)

			if dw != nil {
				colData := x.Value.Data[inOff : inOff+groupIn]

				if !geo.pointwise {
					im2col(colData, geo, cols)
					colData = cols
				}

				// dW += dOut * cols^T
				blas32.Gemm(blas.NoTrans, blas.Trans, 1, dOutG,
					general(colData, geo.k, geo.l), 1,
					general(dw.Data[wOff:wOff+geo.coutG*geo.k], geo.coutG, geo.k))
			}

			if dx != nil {
				dst := dx.Data[inOff : inOff+groupIn]
				wG := general(weight.Value.Data[wOff:wOff+geo.coutG*geo.k], geo.coutG, geo.k)

				if geo.pointwise {
					// dX += W^T * dOut directly in image layout
					blas32.Gemm(blas.Trans, blas.NoTrans, 1, wG, dOutG, 1,
						general(dst, geo.k, geo.l))
				} else {
					blas32.Gemm(blas.Trans, blas.NoTrans, 1, wG, dOutG, 0,
						general(dcols, geo.k, geo.l))
					col2im(dcols, geo, dst)
				}
			}
		}

		if db != nil {
			for c := 0; c < geo.cout; c++ {
				row := dOut.Data[(n*geo.cout+c)*geo.l : (n*geo.cout+c+1)*geo.l]
				var s float32

				for _, v := range row {
					s += v
				}

				db.Data[c] += s
			}
		}
	}
}

// general wraps a flat slice as a row major blas32 matrix
func general(data []float32, rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   data,
	}
}

// im2col unrolls the receptive fields of one group of channels into the
// columns of a [K, Ho*Wo] matrix
func im2col(src []float32, geo convGeom, cols []float32) {

	for ci := 0; ci < geo.cinG; ci++ {
		for ki := 0; ki < geo.kh; ki++ {
			for kj := 0; kj < geo.kw; kj++ {

				row := (ci*geo.kh+ki)*geo.kw + kj
				dst := cols[row*geo.l : (row+1)*geo.l]

				for oy := 0; oy < geo.ho; oy++ {
					iy := oy*geo.stride - geo.pad + ki
					line := dst[oy*geo.wo : (oy+1)*geo.wo]

					if iy < 0 || iy >= geo.h {
						for i := range line {
							line[i] = 0
						}
						continue
					}

					base := (ci*geo.h + iy) * geo.w

					for ox := 0; ox < geo.wo; ox++ {
						ix := ox*geo.stride - geo.pad + kj

						if ix < 0 || ix >= geo.w {
							line[ox] = 0
						} else {
							line[ox] = src[base+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col, summing column entries back into the
// image positions they were read from
func col2im(cols []float32, geo convGeom, dst []float32) {

	for ci := 0; ci < geo.cinG; ci++ {
		for ki := 0; ki < geo.kh; ki++ {
			for kj := 0; kj < geo.kw; kj++ {

				row := (ci*geo.kh+ki)*geo.kw + kj
				srcRow := cols[row*geo.l : (row+1)*geo.l]

				for oy := 0; oy < geo.ho; oy++ {
					iy := oy*geo.stride - geo.pad + ki

					if iy < 0 || iy >= geo.h {
						continue
					}

					base := (ci*geo.h + iy) * geo.w

					for ox := 0; ox < geo.wo; ox++ {
						ix := ox*geo.stride - geo.pad + kj

						if ix >= 0 && ix < geo.w {
							dst[base+ix] += srcRow[oy*geo.wo+ox]
						}
					}
				}
			}
		}
	}
}
