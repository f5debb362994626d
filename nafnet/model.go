package nafnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/swdee/go-wagonocr/tensor"
)

// ErrInputShape is returned when the forward input does not fit the network
var ErrInputShape = errors.New("invalid input shape")

// Param is a named learnable parameter
type Param struct {
	// Name is the dotted state dict key, eg: encoders.0.0.conv1.weight
	Name string
	// Var holds the parameter value and its gradient
	Var *tensor.Var
}

// Model is the encoder/bottleneck/decoder restoration network built from
// gated residual blocks.  The output is the input plus a predicted correction.
type Model struct {
	cfg      Config
	intro    *conv
	encoders [][]*block
	downs    []*conv
	middle   []*block
	ups      []*conv
	decoders [][]*block
	outro    *conv
	params   []Param
}

// New creates a model with the given configuration and seeds the parameter
// initialisation with seed
func New(cfg Config, seed uint64) (*Model, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &builder{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}

	m := &Model{cfg: cfg}

	m.intro = b.conv("intro", cfg.InChannels, cfg.Width, 3, 1, 1, 1)

	chans := cfg.Width

	for i, n := range cfg.EncBlocks {
		stage := make([]*block, n)

		for j := range stage {
			stage[j] = b.block(fmt.Sprintf("encoders.%d.%d", i, j), chans, cfg)
		}

		m.encoders = append(m.encoders, stage)
		m.downs = append(m.downs, b.conv(fmt.Sprintf("downs.%d", i), chans, chans*2, 2, 2, 0, 1))
		chans *= 2
	}

	for j := 0; j < cfg.MiddleBlocks; j++ {
		m.middle = append(m.middle, b.block(fmt.Sprintf("middle.%d", j), chans, cfg))
	}

	for i, n := range cfg.DecBlocks {
		m.ups = append(m.ups, b.conv(fmt.Sprintf("ups.%d.0", i), chans, chans*2, 1, 1, 0, 1))
		chans /= 2

		stage := make([]*block, n)

		for j := range stage {
			stage[j] = b.block(fmt.Sprintf("decoders.%d.%d", i, j), chans, cfg)
		}

		m.decoders = append(m.decoders, stage)
	}

	m.outro = b.conv("outro", cfg.Width, cfg.InChannels, 3, 1, 1, 1)
	m.params = b.params

	return m, nil
}

// NewSize creates a model for the named size, "small" or "medium"
func NewSize(size string, seed uint64) (*Model, error) {

	cfg, err := ConfigFor(size)

	if err != nil {
		return nil, err
	}

	return New(cfg, seed)
}

// Config returns the model configuration
func (m *Model) Config() Config {
	return m.cfg
}

// Forward evaluates the network on x [N,C,H,W].  Passing a nil graph runs in
// inference mode without recording gradients.  H and W must be multiples of
// Config.Stride().
func (m *Model) Forward(g *tensor.Graph, x *tensor.Var) (*tensor.Var, error) {

	if len(x.Value.Shape) != 4 {
		return nil, fmt.Errorf("%w: expected 4 dimensions, got %v", ErrInputShape, x.Value.Shape)
	}

	_, c, h, w := x.Value.Dims()
	stride := m.cfg.Stride()

	if c != m.cfg.InChannels {
		return nil, fmt.Errorf("%w: expected %d channels, got %d", ErrInputShape, m.cfg.InChannels, c)
	}

	if h%stride != 0 || w%stride != 0 || h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: %dx%d is not a multiple of stride %d", ErrInputShape, h, w, stride)
	}

	out := m.intro.forward(g, x)
	skips := make([]*tensor.Var, 0, len(m.encoders))

	for i, stage := range m.encoders {
		for _, blk := range stage {
			out = blk.forward(g, out)
		}

		skips = append(skips, out)
		out = m.downs[i].forward(g, out)
	}

	for _, blk := range m.middle {
		out = blk.forward(g, out)
	}

	for i, stage := range m.decoders {
		out = m.ups[i].forward(g, out)
		out = tensor.PixelShuffle(g, out, 2)
		out = tensor.Add(g, out, skips[len(skips)-1-i])

		for _, blk := range stage {
			out = blk.forward(g, out)
		}
	}

	out = m.outro.forward(g, out)

	// predict a correction to the input
	return tensor.Add(g, out, x), nil
}

// Params returns the learnable parameters in construction order
func (m *Model) Params() []Param {
	return m.params
}

// NumParams returns the total count of learnable values
func (m *Model) NumParams() int {
	n := 0

	for _, p := range m.params {
		n += p.Var.Value.Len()
	}

	return n
}

// ZeroGrad clears gradients of every parameter
func (m *Model) ZeroGrad() {
	for _, p := range m.params {
		p.Var.ZeroGrad()
	}
}

// StateDict returns a copy of every parameter keyed by name
func (m *Model) StateDict() map[string]*tensor.Tensor {

	sd := make(map[string]*tensor.Tensor, len(m.params))

	for _, p := range m.params {
		sd[p.Name] = p.Var.Value.Clone()
	}

	return sd
}

// LoadStateDict copies parameter values from sd.  Loading is strict, every
// parameter must be present with an identical shape and no unknown keys are
// allowed.
func (m *Model) LoadStateDict(sd map[string]*tensor.Tensor) error {

	known := make(map[string]bool, len(m.params))

	for _, p := range m.params {
		known[p.Name] = true

		src, ok := sd[p.Name]

		if !ok {
			return fmt.Errorf("%w: missing key %s", ErrShapeMismatch, p.Name)
		}

		if !src.SameShape(p.Var.Value) {
			return fmt.Errorf("%w: %s has shape %v, model expects %v",
				ErrShapeMismatch, p.Name, src.Shape, p.Var.Value.Shape)
		}
	}

	var unexpected []string

	for name := range sd {
		if !known[name] {
			unexpected = append(unexpected, name)
		}
	}

	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return fmt.Errorf("%w: unexpected keys %v", ErrShapeMismatch, unexpected)
	}

	for _, p := range m.params {
		copy(p.Var.Value.Data, sd[p.Name].Data)
	}

	return nil
}

// conv is a convolution layer with weight and bias
type conv struct {
	weight *tensor.Var
	bias   *tensor.Var
	params tensor.ConvParams
}

func (c *conv) forward(g *tensor.Graph, x *tensor.Var) *tensor.Var {
	return tensor.Conv2d(g, x, c.weight, c.bias, c.params)
}

// norm is a single group normalisation with per channel affine
type norm struct {
	weight *tensor.Var
	bias   *tensor.Var
	eps    float32
}

func (n *norm) forward(g *tensor.Graph, x *tensor.Var) *tensor.Var {
	return tensor.GroupNorm(g, x, n.weight, n.bias, n.eps)
}

// block is the gated residual block.  The spatial branch is
// norm, 1x1 expand, gate, 3x3 depthwise, gate, channel attention, 1x1 project
// and the feed forward branch is norm, 1x1 expand, gate, 1x1 project.  Both
// are added back to their input scaled by a learned per channel factor.
type block struct {
	norm1   *norm
	conv1   *conv
	conv2   *conv
	sca     *conv
	conv3   *conv
	beta    *tensor.Var
	norm2   *norm
	ffConv1 *conv
	ffConv2 *conv
	gamma   *tensor.Var
}

func (b *block) forward(g *tensor.Graph, x *tensor.Var) *tensor.Var {

	out := b.norm1.forward(g, x)
	out = b.conv1.forward(g, out)
	out = tensor.SimpleGate(g, out)
	out = b.conv2.forward(g, out)
	out = tensor.SimpleGate(g, out)

	att := b.sca.forward(g, tensor.GlobalAvgPool(g, out))
	out = tensor.MulChannel(g, out, att)
	out = b.conv3.forward(g, out)

	x = tensor.AddScaled(g, x, out, b.beta)

	out = b.norm2.forward(g, x)
	out = b.ffConv1.forward(g, out)
	out = tensor.SimpleGate(g, out)
	out = b.ffConv2.forward(g, out)

	return tensor.AddScaled(g, x, out, b.gamma)
}

// builder creates and registers named parameters
type builder struct {
	rng    *rand.Rand
	params []Param
}

func (b *builder) register(name string, t *tensor.Tensor) *tensor.Var {
	v := tensor.NewParam(t)
	b.params = append(b.params, Param{Name: name, Var: v})
	return v
}

// conv creates a convolution with Kaiming normal weights in fan out mode for
// rectifier gain, std = sqrt(2 / (cout*kh*kw)), and zero bias
func (b *builder) conv(name string, cin, cout, k, stride, pad, groups int) *conv {

	std := float32(math.Sqrt(2 / float64(cout*k*k)))

	return &conv{
		weight: b.register(name+".weight", tensor.RandNormal(b.rng, std, cout, cin/groups, k, k)),
		bias:   b.register(name+".bias", tensor.New(cout)),
		params: tensor.ConvParams{Stride: stride, Pad: pad, Groups: groups},
	}
}

func (b *builder) norm(name string, chans int, eps float32) *norm {
	return &norm{
		weight: b.register(name+".norm.weight", tensor.Full(1, chans)),
		bias:   b.register(name+".norm.bias", tensor.New(chans)),
		eps:    eps,
	}
}

func (b *builder) block(prefix string, chans int, cfg Config) *block {

	hidden := chans * cfg.Expansion

	return &block{
		norm1:   b.norm(prefix+".norm1", chans, cfg.NormEps),
		conv1:   b.conv(prefix+".conv1", chans, hidden*2, 1, 1, 0, 1),
		conv2:   b.conv(prefix+".conv2", hidden, hidden*2, 3, 1, 1, hidden),
		conv3:   b.conv(prefix+".conv3", hidden, chans, 1, 1, 0, 1),
		sca:     b.conv(prefix+".sca.1", hidden, hidden, 1, 1, 0, 1),
		beta:    b.register(prefix+".beta", tensor.New(1, chans, 1, 1)),
		norm2:   b.norm(prefix+".norm2", chans, cfg.NormEps),
		ffConv1: b.conv(prefix+".ff_conv1", chans, hidden*2, 1, 1, 0, 1),
		ffConv2: b.conv(prefix+".ff_conv2", hidden, chans, 1, 1, 0, 1),
		gamma:   b.register(prefix+".gamma", tensor.New(1, chans, 1, 1)),
	}
}
