package gan

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FeatureExtractor yields the ordered intermediate activations of a frozen feature network.
// The network itself is an external collaborator: its parameters are never trained here.
type FeatureExtractor interface {
	Features(x *gorgonia.Node) ([]*gorgonia.Node, error)
}

// GramMatrix computes the channel correlation matrix of a (batch, channels, height, width)
// activation, returning shape (batch, channels, channels) scaled by 1/(channels*height*width).
func GramMatrix(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("GramMatrix: expecting 4 dimensional input - have %v", shape)
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	flat, err := gorgonia.Reshape(x, tensor.Shape{b, c, h * w})
	if err != nil {
		return nil, err
	}
	flatT, err := gorgonia.Transpose(flat, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	gram, err := gorgonia.BatchedMatMul(flat, flatT)
	if err != nil {
		return nil, errors.Wrap(err, "GramMatrix")
	}
	return gorgonia.Div(gram, gorgonia.NewConstant(float64(c*h*w)))
}

// StyleLoss sums the distance between the gram matrices of real and fake activations over
// the selected feature blocks. p selects the distance: 1 for L1, 2 for mean squared error.
func StyleLoss(f FeatureExtractor, real, fake *gorgonia.Node, blocks []int, p int) (*gorgonia.Node, error) {
	realActs, err := f.Features(real)
	if err != nil {
		return nil, err
	}
	fakeActs, err := f.Features(fake)
	if err != nil {
		return nil, err
	}
	var loss *gorgonia.Node
	for _, ix := range blocks {
		if ix < 0 || ix >= len(realActs) {
			return nil, fmt.Errorf("StyleLoss: block index %d out of range", ix)
		}
		realGram, err := GramMatrix(realActs[ix])
		if err != nil {
			return nil, err
		}
		fakeGram, err := GramMatrix(fakeActs[ix])
		if err != nil {
			return nil, err
		}
		dist, err := distance(fakeGram, realGram, p)
		if err != nil {
			return nil, err
		}
		loss, err = accumulate(loss, dist)
		if err != nil {
			return nil, err
		}
	}
	return loss, nil
}

// ContentLoss is the distance between the raw activations of a single feature block.
func ContentLoss(f FeatureExtractor, real, fake *gorgonia.Node, block, p int) (*gorgonia.Node, error) {
	realActs, err := f.Features(real)
	if err != nil {
		return nil, err
	}
	fakeActs, err := f.Features(fake)
	if err != nil {
		return nil, err
	}
	if block < 0 || block >= len(realActs) {
		return nil, fmt.Errorf("ContentLoss: block index %d out of range", block)
	}
	return distance(fakeActs[block], realActs[block], p)
}

// FeatureLoss sums the activation distances over every feature block - the feature matching
// form of the perceptual loss.
func FeatureLoss(f FeatureExtractor, real, fake *gorgonia.Node, p int) (*gorgonia.Node, error) {
	realActs, err := f.Features(real)
	if err != nil {
		return nil, err
	}
	fakeActs, err := f.Features(fake)
	if err != nil {
		return nil, err
	}
	var loss *gorgonia.Node
	for ix := range realActs {
		dist, err := distance(fakeActs[ix], realActs[ix], p)
		if err != nil {
			return nil, err
		}
		loss, err = accumulate(loss, dist)
		if err != nil {
			return nil, err
		}
	}
	return loss, nil
}

func distance(x, y *gorgonia.Node, p int) (*gorgonia.Node, error) {
	switch p {
	case 1:
		diff, err := gorgonia.Sub(x, y)
		if err != nil {
			return nil, err
		}
		abs, err := gorgonia.Abs(diff)
		if err != nil {
			return nil, err
		}
		return gorgonia.Mean(abs)
	case 2:
		return mseLoss(x, y)
	}
	return nil, fmt.Errorf("distance: p must be 1 or 2 - have %d", p)
}

func accumulate(sum, val *gorgonia.Node) (*gorgonia.Node, error) {
	if sum == nil {
		return val, nil
	}
	return gorgonia.Add(sum, val)
}

// ConvFeatures is a small frozen convolutional feature bank implementing FeatureExtractor.
// Each block is one 3x3 convolution followed by a leaky rectifier. It stands in for an
// externally trained feature network when none is available.
type ConvFeatures struct {
	weights []*tensor.Dense
	calls   int
}

// NewConvFeatures creates a feature bank with the given channel widths per block.
func NewConvFeatures(rng *rand.Rand, channels ...int) *ConvFeatures {
	f := &ConvFeatures{}
	prev := 3
	for _, ch := range channels {
		f.weights = append(f.weights, glorotTensor(rng, ch, prev, 3, 3))
		prev = ch
	}
	return f
}

func (f *ConvFeatures) Features(x *gorgonia.Node) ([]*gorgonia.Node, error) {
	g := x.Graph()
	f.calls++
	acts := make([]*gorgonia.Node, len(f.weights))
	h := x
	for i, w := range f.weights {
		wn := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(w.Shape()...),
			gorgonia.WithName(fmt.Sprintf("features_%d_w%d", f.calls, i)), gorgonia.WithValue(w))
		conv, err := gorgonia.Conv2d(h, wn, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
		if err != nil {
			return nil, errors.Wrapf(err, "features: block %d", i)
		}
		h, err = gorgonia.LeakyRelu(conv, 0.2)
		if err != nil {
			return nil, err
		}
		acts[i] = h
	}
	return acts, nil
}
