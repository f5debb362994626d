package loss

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/swdee/go-wagonocr/tensor"
)

// DefaultPerceptualLayer is the deepest VGG19 activation used by default,
// covering features[:36]
const DefaultPerceptualLayer = "relu5_4"

// vgg19Config lists the VGG19 feature stack, a number is a 3x3 convolution with
// that many output channels followed by ReLU and 0 is a 2x2 max pool
var vgg19Config = []int{
	64, 64, 0,
	128, 128, 0,
	256, 256, 256, 256, 0,
	512, 512, 512, 512, 0,
	512, 512, 512, 512, 0,
}

var (
	imagenetMean = []float32{0.485, 0.456, 0.406}
	imagenetStd  = []float32{0.229, 0.224, 0.225}
)

// vggLayer is one entry of the feature stack
type vggLayer struct {
	// weight and bias are nil for pooling layers
	weight *tensor.Var
	bias   *tensor.Var
	pool   bool
}

// Perceptual computes the mean squared difference between VGG19 feature maps
// of a prediction and its target.  The feature network is frozen: gradients
// flow through it to the prediction but its weights are never updated.
type Perceptual struct {
	layers []vggLayer
	names  map[string]*tensor.Var
	// scale and shift map [-1,1] input to ImageNet normalised values
	scale []float32
	shift []float32
	// Loaded is set once pretrained weights have been applied
	Loaded bool
}

// NewPerceptual builds the VGG19 feature slice ending at the named activation,
// eg: relu2_2 or relu5_4.  Weights are randomly initialised from seed until
// LoadStateDict is called.
func NewPerceptual(layer string, seed uint64) (*Perceptual, error) {

	if layer == "" {
		layer = DefaultPerceptualLayer
	}

	rng := rand.New(rand.NewPCG(seed, seed+1))

	p := &Perceptual{
		names: make(map[string]*tensor.Var),
		scale: make([]float32, 3),
		shift: make([]float32, 3),
	}

	for c := 0; c < 3; c++ {
		// ((x+1)/2 - mean) / std
		p.scale[c] = 0.5 / imagenetStd[c]
		p.shift[c] = (0.5 - imagenetMean[c]) / imagenetStd[c]
	}

	block, conv := 1, 0
	in := 3
	idx := 0
	found := false

	for _, v := range vgg19Config {

		if v == 0 {
			p.layers = append(p.layers, vggLayer{pool: true})
			block++
			conv = 0
			idx++
			continue
		}

		conv++
		std := float32(math.Sqrt(2 / float64(v*9)))

		w := tensor.NewVar(tensor.RandNormal(rng, std, v, in, 3, 3))
		b := tensor.NewVar(tensor.New(v))

		p.names[fmt.Sprintf("features.%d.weight", idx)] = w
		p.names[fmt.Sprintf("features.%d.bias", idx)] = b
		p.layers = append(p.layers, vggLayer{weight: w, bias: b})

		// conv and relu occupy two feature indices
		idx += 2
		in = v

		if fmt.Sprintf("relu%d_%d", block, conv) == layer {
			found = true
			break
		}
	}

	if !found {
		return nil, fmt.Errorf("unknown VGG19 layer %q", layer)
	}

	return p, nil
}

// LoadStateDict applies pretrained VGG19 weights keyed as features.N.weight
// and features.N.bias.  Keys for layers beyond the slice are ignored.
func (p *Perceptual) LoadStateDict(sd map[string]*tensor.Tensor) error {

	keys := make([]string, 0, len(p.names))

	for k := range p.names {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		src, ok := sd[k]

		if !ok {
			return fmt.Errorf("missing VGG weight %s", k)
		}

		dst := p.names[k].Value

		if !src.SameShape(dst) {
			return fmt.Errorf("VGG weight %s has shape %v, expected %v", k, src.Shape, dst.Shape)
		}
	}

	for _, k := range keys {
		copy(p.names[k].Value.Data, sd[k].Data)
	}

	p.Loaded = true

	return nil
}

// Features returns the activations of x, holding [-1,1] RGB values, at the
// configured depth
func (p *Perceptual) Features(g *tensor.Graph, x *tensor.Var) *tensor.Var {

	out := tensor.ChannelAffine(g, x, p.scale, p.shift)

	for _, l := range p.layers {
		if l.pool {
			out = tensor.MaxPool2d(g, out, 2)
			continue
		}

		out = tensor.Conv2d(g, out, l.weight, l.bias, tensor.ConvParams{Stride: 1, Pad: 1})
		out = tensor.ReLU(g, out)
	}

	return out
}

// Loss returns the mean squared difference of the features of pred and
// target.  Target features are computed without recording gradients.
func (p *Perceptual) Loss(g *tensor.Graph, pred, target *tensor.Var) *tensor.Var {

	fp := p.Features(g, pred)
	ft := p.Features(nil, tensor.NewVar(target.Value))

	return MSE(g, fp, ft)
}
