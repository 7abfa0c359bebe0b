package gan

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Strategy is a stateless adversarial loss policy building scalar loss nodes from the
// per sample discriminator scores. The strategy is fixed for the whole training run.
type Strategy interface {
	Name() string
	// DLoss returns the discriminator loss given scores for a real and a fake batch.
	DLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error)
	// GLoss returns the generator loss given scores for a fake batch.
	GLoss(fake *gorgonia.Node) (*gorgonia.Node, error)
}

// StrategyByName resolves the loss strategy at configuration time.
// Valid names are minimax, lsgan, wgan and hinge.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "minimax":
		return minimax{}, nil
	case "lsgan":
		return lsgan{}, nil
	case "wgan":
		return wgan{}, nil
	case "hinge":
		return hinge{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Ld = E[softplus(-D(x))] + E[softplus(D(G(z)))]
type minimax struct{}

func (minimax) Name() string { return "minimax" }

func (minimax) DLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	realLoss, err := meanSoftplusNeg(real)
	if err != nil {
		return nil, err
	}
	fakeLoss, err := meanSoftplus(fake)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(realLoss, fakeLoss)
}

func (minimax) GLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	return meanSoftplusNeg(fake)
}

// Ld = (E[(D(x)-1)^2] + E[D(G(z))^2]) / 2
type lsgan struct{}

func (lsgan) Name() string { return "lsgan" }

func (lsgan) DLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	realLoss, err := meanSquareDist(real, 1)
	if err != nil {
		return nil, err
	}
	fakeLoss, err := meanSquare(fake)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(realLoss, fakeLoss)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(sum, gorgonia.NewConstant(2.0))
}

func (lsgan) GLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	fakeLoss, err := meanSquareDist(fake, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(fakeLoss, gorgonia.NewConstant(2.0))
}

// Ld = E[D(G(z))] - E[D(x)]
type wgan struct{}

func (wgan) Name() string { return "wgan" }

func (wgan) DLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	realMean, err := gorgonia.Mean(real)
	if err != nil {
		return nil, err
	}
	fakeMean, err := gorgonia.Mean(fake)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(fakeMean, realMean)
}

func (wgan) GLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	fakeMean, err := gorgonia.Mean(fake)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(fakeMean)
}

// Ld = E[relu(1-D(x))] + E[relu(1+D(G(z)))]
type hinge struct{}

func (hinge) Name() string { return "hinge" }

func (hinge) DLoss(real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	one := gorgonia.NewConstant(1.0)
	rdiff, err := gorgonia.Sub(one, real)
	if err != nil {
		return nil, err
	}
	realLoss, err := meanRectify(rdiff)
	if err != nil {
		return nil, err
	}
	fdiff, err := gorgonia.Add(one, fake)
	if err != nil {
		return nil, err
	}
	fakeLoss, err := meanRectify(fdiff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(realLoss, fakeLoss)
}

func (hinge) GLoss(fake *gorgonia.Node) (*gorgonia.Node, error) {
	fakeMean, err := gorgonia.Mean(fake)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(fakeMean)
}

// softplus(x) = log(1 + exp(x))
func softplus(x *gorgonia.Node) (*gorgonia.Node, error) {
	ex, err := gorgonia.Exp(x)
	if err != nil {
		return nil, err
	}
	return gorgonia.Log1p(ex)
}

func meanSoftplus(x *gorgonia.Node) (*gorgonia.Node, error) {
	sp, err := softplus(x)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sp)
}

func meanSoftplusNeg(x *gorgonia.Node) (*gorgonia.Node, error) {
	neg, err := gorgonia.Neg(x)
	if err != nil {
		return nil, err
	}
	return meanSoftplus(neg)
}

func meanSquare(x *gorgonia.Node) (*gorgonia.Node, error) {
	sq, err := gorgonia.Square(x)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sq)
}

// mean((x - target)^2) for a scalar target
func meanSquareDist(x *gorgonia.Node, target float64) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(x, gorgonia.NewConstant(target))
	if err != nil {
		return nil, err
	}
	return meanSquare(diff)
}

func meanRectify(x *gorgonia.Node) (*gorgonia.Node, error) {
	r, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(r)
}

// mean squared error between two nodes of the same shape
func mseLoss(x, y *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(x, y)
	if err != nil {
		return nil, err
	}
	return meanSquare(diff)
}
