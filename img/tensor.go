package img

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Tensor converts the image to a single sample batch with shape (1, channels, height, width)
// and pixel values normalised from 0-1 to the -1 to 1 range.
func (m *Image) Tensor() *tensor.Dense {
	backing := make([]float64, len(m.Pix))
	for i, val := range m.Pix {
		backing[i] = val*2 - 1
	}
	return tensor.New(tensor.WithShape(1, Channels, m.Height, m.Width), tensor.WithBacking(backing))
}

// FromTensor converts a batch tensor with shape (batch, channels, height, width) back to a
// list of images, denormalising values from -1..1 to 0..1 with clamping.
func FromTensor(t *tensor.Dense) ([]*Image, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[1] != Channels {
		return nil, fmt.Errorf("FromTensor: expecting shape (batch, %d, height, width) - have %v", Channels, shape)
	}
	batch, height, width := shape[0], shape[2], shape[3]
	data := t.Data().([]float64)
	nfeat := Channels * height * width
	images := make([]*Image, batch)
	for i := range images {
		m := NewImage(width, height)
		for j, val := range data[i*nfeat : (i+1)*nfeat] {
			m.Pix[j] = clamp(val/2+0.5, 0, 1)
		}
		images[i] = m
	}
	return images, nil
}

// ResizeTensor resamples each channel plane of a (batch, channels, height, width) tensor to
// the given spatial size without renormalising the values.
func ResizeTensor(t *tensor.Dense, width, height int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("ResizeTensor: expecting 4 dimensional input - have %v", shape)
	}
	batch, channels, sh, sw := shape[0], shape[1], shape[2], shape[3]
	src := t.Data().([]float64)
	dst := make([]float64, batch*channels*height*width)
	for i := 0; i < batch*channels; i++ {
		resizePlane(src[i*sh*sw:(i+1)*sh*sw], sw, sh, dst[i*height*width:(i+1)*height*width], width, height)
	}
	return tensor.New(tensor.WithShape(batch, channels, height, width), tensor.WithBacking(dst)), nil
}
