package img

import (
	"errors"
	"math"
	"sort"

	"gorgonia.org/tensor"
)

// ErrInvalidScaleFactor is returned for pyramid parameters where the size sequence would not converge.
var ErrInvalidScaleFactor = errors.New("pyramid: scale factor must be in range (0,1) with max size > min size >= 1")

// Level is the real image resized for one scale of the pyramid together with its normalised
// single sample batch tensor. Levels are built once before training and never mutated.
type Level struct {
	Image  *Image
	Tensor *tensor.Dense
	Size   int
	Height int
	Width  int
}

// Schedule generates the sequence of image sizes for progressive training. Sizes are given by
// round(maxSize * scaleFactor^k) for k = 0, 1, 2, ... until the value drops to minSize or below,
// and are returned sorted ascending. Only the final boundary entry may be <= minSize.
func Schedule(maxSize, minSize int, scaleFactor float64) ([]int, error) {
	if scaleFactor <= 0 || scaleFactor >= 1 || minSize < 1 || maxSize <= minSize {
		return nil, ErrInvalidScaleFactor
	}
	var sizes []int
	size := maxSize
	for size > minSize {
		size = int(math.Round(float64(maxSize) * math.Pow(scaleFactor, float64(len(sizes)))))
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes, nil
}

// BuildPyramid resizes the source image to each size in the schedule, smallest first since
// training proceeds coarse to fine. The shorter image side is scaled to match each size.
func BuildPyramid(src *Image, maxSize, minSize int, scaleFactor float64) ([]Level, error) {
	sizes, err := Schedule(maxSize, minSize, scaleFactor)
	if err != nil {
		return nil, err
	}
	levels := make([]Level, len(sizes))
	for i, size := range sizes {
		m := src.Scale(size)
		levels[i] = Level{Image: m, Tensor: m.Tensor(), Size: size, Height: m.Height, Width: m.Width}
	}
	return levels, nil
}
