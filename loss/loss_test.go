package loss

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-wagonocr/tensor"
)

func vec(vals ...float32) *tensor.Tensor {
	t, _ := tensor.FromData(vals, 1, len(vals), 1, 1)
	return t
}

func TestPixelLossValues(t *testing.T) {

	pred := tensor.NewVar(vec(1, -2, 0, 0))
	target := tensor.NewVar(vec(0, 0, 0, 0))

	assert.InDelta(t, 0.75, L1(nil, pred, target).Value.Data[0], 1e-6)
	assert.InDelta(t, 1.25, MSE(nil, pred, target).Value.Data[0], 1e-6)

	// smooth absolute difference is eps for identical inputs
	same := Charbonnier(nil, target, target, DefaultCharbonnierEps)
	assert.InDelta(t, 1e-6, same.Value.Data[0], 1e-9)

	ch := Charbonnier(nil, pred, target, DefaultCharbonnierEps)
	assert.InDelta(t, 0.75, ch.Value.Data[0], 1e-5)
}

func TestPixelByName(t *testing.T) {

	for _, name := range []string{"", "charbonnier", "L1", "mse"} {
		f, err := PixelByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}

	_, err := PixelByName("huber")
	assert.Error(t, err)
}

func TestCharbonnierGradient(t *testing.T) {

	rng := rand.New(rand.NewPCG(1, 2))
	pred := tensor.NewParam(tensor.RandNormal(rng, 1, 1, 2, 3, 3))
	target := tensor.NewVar(tensor.RandNormal(rng, 1, 1, 2, 3, 3))

	g := tensor.NewGraph()
	l := Charbonnier(g, pred, target, DefaultCharbonnierEps)
	g.Backward(l, 1)

	n := float32(pred.Value.Len())

	for i, p := range pred.Value.Data {
		d := p - target.Value.Data[i]
		expect := float32(1) / n

		if d < 0 {
			expect = -expect
		}

		assert.InDelta(t, expect, pred.Grad.Data[i], 1e-4)
	}
}

func TestPerceptualSlices(t *testing.T) {

	tests := []struct {
		layer  string
		expect []int
	}{
		{"relu1_1", []int{1, 64, 8, 8}},
		{"relu1_2", []int{1, 64, 8, 8}},
		{"relu2_2", []int{1, 128, 4, 4}},
		{"relu3_1", []int{1, 256, 2, 2}},
	}

	x := tensor.NewVar(tensor.New(1, 3, 8, 8))

	for _, tc := range tests {
		p, err := NewPerceptual(tc.layer, 1)
		require.NoError(t, err)

		assert.Equal(t, tc.expect, p.Features(nil, x).Value.Shape, tc.layer)
	}

	_, err := NewPerceptual("relu9_9", 1)
	assert.Error(t, err)

	deep, err := NewPerceptual("", 1)
	require.NoError(t, err)
	assert.Len(t, deep.names, 32)
}

func TestPerceptualIsFrozen(t *testing.T) {

	p, err := NewPerceptual("relu2_1", 3)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(4, 5))
	pred := tensor.NewParam(tensor.RandNormal(rng, 0.5, 1, 3, 8, 8))
	target := tensor.NewVar(tensor.RandNormal(rng, 0.5, 1, 3, 8, 8))

	same := p.Loss(nil, target, target)
	assert.InDelta(t, 0, same.Value.Data[0], 1e-12)

	g := tensor.NewGraph()
	l := p.Loss(g, pred, target)
	require.Greater(t, l.Value.Data[0], float32(0))

	g.Backward(l, 1)

	require.NotNil(t, pred.Grad)
	assert.True(t, pred.Grad.IsFinite())

	for name, v := range p.names {
		assert.Nil(t, v.Grad, name)
	}
}

func TestPerceptualLoadStateDict(t *testing.T) {

	src, err := NewPerceptual("relu1_2", 9)
	require.NoError(t, err)

	dst, err := NewPerceptual("relu1_2", 10)
	require.NoError(t, err)

	sd := make(map[string]*tensor.Tensor)

	for k, v := range src.names {
		sd[k] = v.Value.Clone()
	}

	require.NoError(t, dst.LoadStateDict(sd))
	assert.True(t, dst.Loaded)
	assert.Equal(t, sd["features.2.weight"].Data, dst.names["features.2.weight"].Value.Data)

	delete(sd, "features.0.bias")
	assert.Error(t, dst.LoadStateDict(sd))
}

func TestCompositeCombinesTerms(t *testing.T) {

	p, err := NewPerceptual("relu1_1", 2)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(6, 7))
	pred := tensor.NewParam(tensor.RandNormal(rng, 0.5, 1, 3, 4, 4))
	target := tensor.NewVar(tensor.RandNormal(rng, 0.5, 1, 3, 4, 4))

	c := NewComposite(L1, p)

	g := tensor.NewGraph()
	total, terms := c.Loss(g, pred, target)

	assert.InDelta(t, terms.Pixel+0.1*terms.Perceptual, terms.Total, 1e-5)
	assert.Equal(t, terms.Total, total.Value.Data[0])

	g.Backward(total, 1)
	require.NotNil(t, pred.Grad)

	pixelOnly := NewComposite(L1, nil)
	_, t2 := pixelOnly.Loss(nil, pred, target)
	assert.Equal(t, t2.Pixel, t2.Total)
	assert.Zero(t, t2.Perceptual)
}
