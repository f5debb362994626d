package tensor

// Var is a node in a computation graph holding a value and, when gradients
// are tracked, the gradient of the final output with respect to that value
type Var struct {
	// Value is the forward result
	Value *Tensor
	// Grad is the accumulated gradient, allocated on first use
	Grad *Tensor
	// needsGrad is set when gradients should flow into this node
	needsGrad bool
}

// NewVar wraps a tensor as a constant graph input that receives no gradient
func NewVar(t *Tensor) *Var {
	return &Var{Value: t}
}

// NewParam wraps a tensor as a learnable parameter that accumulates gradient
func NewParam(t *Tensor) *Var {
	return &Var{Value: t, needsGrad: true}
}

// RequiresGrad reports whether gradients are tracked for the node
func (v *Var) RequiresGrad() bool {
	return v.needsGrad
}

// SetRequiresGrad toggles gradient tracking, used to freeze parameters
func (v *Var) SetRequiresGrad(b bool) {
	v.needsGrad = b
}

// ZeroGrad clears any accumulated gradient
func (v *Var) ZeroGrad() {
	if v.Grad != nil {
		v.Grad.Fill(0)
	}
}

// grad returns the gradient buffer, allocating it if needed
func (v *Var) grad() *Tensor {
	if v.Grad == nil {
		v.Grad = v.Value.ZerosLike()
	}

	return v.Grad
}

// Graph records the backward closures of operations executed in forward
// order.  A nil *Graph is valid and means inference mode, where no tape is
// recorded and no gradient memory is allocated.
type Graph struct {
	tape []func()
	// Half enables mixed precision, rounding op outputs to IEEE half precision
	// while parameters and gradients remain in float32
	Half bool
}

// NewGraph returns an empty graph ready to record operations
func NewGraph() *Graph {
	return &Graph{
		tape: make([]func(), 0, 256),
	}
}

// tracking reports whether an op with the given inputs must record a backward
// step
func (g *Graph) tracking(inputs ...*Var) bool {

	if g == nil {
		return false
	}

	for _, in := range inputs {
		if in != nil && in.needsGrad {
			return true
		}
	}

	return false
}

// result creates the output node of an op and records its backward closure
// when any input requires gradient
func (g *Graph) result(value *Tensor, backward func(out *Var), inputs ...*Var) *Var {

	if g != nil && g.Half {
		roundHalf(value.Data)
	}

	out := &Var{Value: value}

	if g.tracking(inputs...) {
		out.needsGrad = true
		g.tape = append(g.tape, func() {
			if out.Grad != nil {
				backward(out)
			}
		})
	}

	return out
}

// Backward seeds the gradient of out with the given scale for every element
// and propagates gradients through the tape in reverse order.  The tape is
// cleared afterwards so the graph can not be replayed.
func (g *Graph) Backward(out *Var, seed float32) {

	if g == nil || !out.needsGrad {
		return
	}

	out.grad().Fill(seed)

	for i := len(g.tape) - 1; i >= 0; i-- {
		g.tape[i]()
	}

	g.tape = g.tape[:0]
}

// Len returns the number of recorded backward steps
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}

	return len(g.tape)
}

// Custom records an op computed outside this package.  The backward function
// receives the output gradient and must accumulate into the Grad of inputs
// via AccumulateGrad.
func Custom(g *Graph, value *Tensor, backward func(outGrad *Tensor), inputs ...*Var) *Var {
	return g.result(value, func(out *Var) {
		backward(out.Grad)
	}, inputs...)
}

// AccumulateGrad adds delta into the gradient of v when v tracks gradients
func AccumulateGrad(v *Var, delta *Tensor) {
	if !v.needsGrad {
		return
	}

	v.grad().AddInPlace(delta)
}

// GradBuffer returns the gradient buffer of v, or nil when v does not track
// gradients
func GradBuffer(v *Var) *Tensor {
	if !v.needsGrad {
		return nil
	}

	return v.grad()
}
