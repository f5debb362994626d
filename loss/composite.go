package loss

import (
	"github.com/swdee/go-wagonocr/tensor"
)

// DefaultPerceptualWeight is the weight of the perceptual term
const DefaultPerceptualWeight = 0.1

// Terms reports the individual values of a composite loss evaluation
type Terms struct {
	Pixel      float32
	Perceptual float32
	Total      float32
}

// Composite combines a pixel loss with an optional perceptual loss as
// pixel + Weight*perceptual
type Composite struct {
	// Pixel is the pixel fidelity loss
	Pixel PixelFunc
	// Perceptual is the feature loss, nil disables the term
	Perceptual *Perceptual
	// Weight scales the perceptual term
	Weight float32
}

// NewComposite returns a composite loss with the default perceptual weight
func NewComposite(pixel PixelFunc, perceptual *Perceptual) *Composite {
	return &Composite{
		Pixel:      pixel,
		Perceptual: perceptual,
		Weight:     DefaultPerceptualWeight,
	}
}

// Loss evaluates the composite loss and returns the scalar graph node along
// with the value of each term
func (c *Composite) Loss(g *tensor.Graph, pred, target *tensor.Var) (*tensor.Var, Terms) {

	pix := c.Pixel(g, pred, target)
	terms := Terms{
		Pixel: pix.Value.Data[0],
		Total: pix.Value.Data[0],
	}

	if c.Perceptual == nil || c.Weight == 0 {
		return pix, terms
	}

	perc := c.Perceptual.Loss(g, pred, target)
	terms.Perceptual = perc.Value.Data[0]

	total := weightedAdd(g, pix, perc, c.Weight)
	terms.Total = total.Value.Data[0]

	return total, terms
}

// weightedAdd returns the scalar a + w*b
func weightedAdd(g *tensor.Graph, a, b *tensor.Var, w float32) *tensor.Var {

	out := tensor.New(1)
	out.Data[0] = a.Value.Data[0] + w*b.Value.Data[0]

	return tensor.Custom(g, out, func(dOut *tensor.Tensor) {
		da := tensor.New(1)
		da.Data[0] = dOut.Data[0]
		tensor.AccumulateGrad(a, da)

		db := tensor.New(1)
		db.Data[0] = dOut.Data[0] * w
		tensor.AccumulateGrad(b, db)
	}, a, b)
}
