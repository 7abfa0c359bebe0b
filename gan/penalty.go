package gan

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Scorer builds the discriminator score node for an image batch node on the current graph.
type Scorer func(x *gorgonia.Node) (*gorgonia.Node, error)

// Penalty builds the discriminator gradient norm regularisation term. The gradient norm is
// estimated per sample from the slope of the score between a pair of nearby evaluation
// points, so the penalty only needs first order derivatives of the scorer and the
// discriminator update stays a single backward pass. With Center == 1 the pair is two
// random interpolations between the real and fake batch, so the slope is taken along the
// real to fake line (WGAN-GP). With Center == 0 the pair is the real batch and a small
// random perturbation of it (R1). Both points are fed as graph inputs - see Inputs.
type Penalty struct {
	Center float64
}

// scale of the gaussian perturbation for the zero centered evaluation pair
const perturbScale = 0.01

// NewPenalty resolves the penalty from the gp type name: "one" or "zero".
func NewPenalty(gpType string) (*Penalty, error) {
	switch gpType {
	case "one":
		return &Penalty{Center: 1}, nil
	case "zero":
		return &Penalty{Center: 0}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPenalty, gpType)
}

// Build adds the penalty node for the evaluation point pair x1, x2, which must be input
// nodes on the same graph as the scorer parameters.
func (p *Penalty) Build(score Scorer, x1, x2 *gorgonia.Node) (*gorgonia.Node, error) {
	switch p.Center {
	case 1:
		return p.buildOne(score, x1, x2)
	case 0:
		return p.buildZero(score, x1, x2)
	}
	return nil, fmt.Errorf("%w: have %v", ErrInvalidPenaltyCenter, p.Center)
}

// Inputs returns the tensors to feed the evaluation point pair: two random interpolations
// between the real and fake batch for the one centered penalty, the real batch and a
// gaussian perturbation of it for zero centered.
func (p *Penalty) Inputs(real, fake *tensor.Dense, rng *rand.Rand) (x1, x2 *tensor.Dense) {
	if p.Center == 1 {
		return Interpolate(real, fake, rng), Interpolate(real, fake, rng)
	}
	return real, perturb(real, perturbScale, rng)
}

// mean((|slope| - 1)^2)
func (p *Penalty) buildOne(score Scorer, x1, x2 *gorgonia.Node) (*gorgonia.Node, error) {
	slope, err := scoreSlope(score, x1, x2)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(slope)
	if err != nil {
		return nil, err
	}
	norm, err := gorgonia.Sqrt(sq)
	if err != nil {
		return nil, err
	}
	diff, err := gorgonia.Sub(norm, gorgonia.NewConstant(p.Center))
	if err != nil {
		return nil, err
	}
	return meanSquare(diff)
}

// mean(slope^2) / 2
func (p *Penalty) buildZero(score Scorer, x1, x2 *gorgonia.Node) (*gorgonia.Node, error) {
	slope, err := scoreSlope(score, x1, x2)
	if err != nil {
		return nil, err
	}
	mean, err := meanSquare(slope)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(mean, gorgonia.NewConstant(2.0))
}

// per sample difference quotient of the score between the two evaluation points:
// (D(x1) - D(x2)) / |x1 - x2|
func scoreSlope(score Scorer, x1, x2 *gorgonia.Node) (*gorgonia.Node, error) {
	s1, err := score(x1)
	if err != nil {
		return nil, errors.Wrap(err, "penalty: score")
	}
	s2, err := score(x2)
	if err != nil {
		return nil, errors.Wrap(err, "penalty: score")
	}
	diff, err := gorgonia.Sub(s1, s2)
	if err != nil {
		return nil, err
	}
	dist, err := pairDistance(x1, x2)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(diff, dist)
}

// per sample L2 distance between the two evaluation points
func pairDistance(x1, x2 *gorgonia.Node) (*gorgonia.Node, error) {
	d, err := gorgonia.Sub(x1, x2)
	if err != nil {
		return nil, err
	}
	shape := x1.Shape()
	flat, err := gorgonia.Reshape(d, tensor.Shape{shape[0], shape.TotalSize() / shape[0]})
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(flat)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(sq, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sqrt(sum)
}

// Interpolate mixes the real and fake batch with one uniform [0,1) coefficient per sample.
func Interpolate(real, fake *tensor.Dense, rng *rand.Rand) *tensor.Dense {
	shape := real.Shape()
	n := shape.TotalSize() / shape[0]
	rd, fd := real.Data().([]float64), fake.Data().([]float64)
	backing := make([]float64, len(rd))
	for b := 0; b < shape[0]; b++ {
		a := rng.Float64()
		for i := b * n; i < (b+1)*n; i++ {
			backing[i] = a*rd[i] + (1-a)*fd[i]
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// perturb returns a copy of x with added gaussian noise of the given scale.
func perturb(x *tensor.Dense, sigma float64, rng *rand.Rand) *tensor.Dense {
	data := x.Data().([]float64)
	backing := make([]float64, len(data))
	for i := range backing {
		backing[i] = data[i] + sigma*rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(x.Shape()...), tensor.WithBacking(backing))
}
