package loss

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"

	"github.com/swdee/go-wagonocr/tensor"
)

// DefaultCharbonnierEps is the smoothing term of the Charbonnier loss
const DefaultCharbonnierEps = 1e-6

// PixelFunc computes a scalar pixel fidelity loss between a prediction and
// its target
type PixelFunc func(g *tensor.Graph, pred, target *tensor.Var) *tensor.Var

// PixelByName returns the pixel loss for the given name, one of charbonnier,
// l1 or mse
func PixelByName(name string) (PixelFunc, error) {

	switch strings.ToLower(name) {
	case "", "charbonnier":
		return func(g *tensor.Graph, pred, target *tensor.Var) *tensor.Var {
			return Charbonnier(g, pred, target, DefaultCharbonnierEps)
		}, nil
	case "l1":
		return L1, nil
	case "mse":
		return MSE, nil
	}

	return nil, fmt.Errorf("unknown pixel loss %q", name)
}

// elementwise builds a mean reduction over per element terms.  f returns the
// loss term and its derivative with respect to the difference pred-target.
func elementwise(g *tensor.Graph, pred, target *tensor.Var,
	f func(d float32) (float32, float32)) *tensor.Var {

	if !pred.Value.SameShape(target.Value) {
		panic(fmt.Sprintf("loss: shape mismatch %v vs %v", pred.Value.Shape, target.Value.Shape))
	}

	n := pred.Value.Len()
	deriv := make([]float32, n)

	var sum float64

	for i, p := range pred.Value.Data {
		v, dv := f(p - target.Value.Data[i])
		sum += float64(v)
		deriv[i] = dv / float32(n)
	}

	out := tensor.New(1)
	out.Data[0] = float32(sum / float64(n))

	return tensor.Custom(g, out, func(dOut *tensor.Tensor) {
		scale := dOut.Data[0]

		if dp := tensor.GradBuffer(pred); dp != nil {
			for i, d := range deriv {
				dp.Data[i] += d * scale
			}
		}

		if dt := tensor.GradBuffer(target); dt != nil {
			for i, d := range deriv {
				dt.Data[i] -= d * scale
			}
		}
	}, pred, target)
}

// Charbonnier returns mean(sqrt((pred-target)^2 + eps^2)), a smooth
// approximation of the absolute difference that is differentiable at zero
func Charbonnier(g *tensor.Graph, pred, target *tensor.Var, eps float32) *tensor.Var {

	eps2 := eps * eps

	return elementwise(g, pred, target, func(d float32) (float32, float32) {
		r := math32.Sqrt(d*d + eps2)
		return r, d / r
	})
}

// L1 returns the mean absolute difference
func L1(g *tensor.Graph, pred, target *tensor.Var) *tensor.Var {
	return elementwise(g, pred, target, func(d float32) (float32, float32) {
		switch {
		case d > 0:
			return d, 1
		case d < 0:
			return -d, -1
		}

		return 0, 0
	})
}

// MSE returns the mean squared difference
func MSE(g *tensor.Graph, pred, target *tensor.Var) *tensor.Var {
	return elementwise(g, pred, target, func(d float32) (float32, float32) {
		return d * d, 2 * d
	})
}
