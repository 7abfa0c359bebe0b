package gan

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// score = k * sum(x) per sample, so the slope between any two points is k * sum(d) / |d|
func linearScorer(k float64) Scorer {
	return func(x *gorgonia.Node) (*gorgonia.Node, error) {
		s, err := gorgonia.Sum(x, 1, 2, 3)
		if err != nil {
			return nil, err
		}
		return gorgonia.Mul(s, gorgonia.NewConstant(k))
	}
}

// evalPenalty feeds a fixed evaluation pair with x2 = x1 + 1 elementwise, so for the
// linear scorer the slope per sample is -k * 4 / sqrt(4) = -2k over the 4 elements.
func evalPenalty(t *testing.T, gpType string, score Scorer) float64 {
	t.Helper()
	pen, err := NewPenalty(gpType)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	g := gorgonia.NewGraph()
	shape := []int{2, 1, 2, 2}
	x1 := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("pen_a"))
	x2 := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("pen_b"))
	cost, err := pen.Build(score, x1, x2)
	if err != nil {
		t.Fatal(err)
	}
	var val gorgonia.Value
	gorgonia.Read(cost, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	a := normTensor(rng, shape...)
	data := a.Data().([]float64)
	backing := make([]float64, len(data))
	for i := range backing {
		backing[i] = data[i] + 1
	}
	b := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	if err = gorgonia.Let(x1, a); err != nil {
		t.Fatal(err)
	}
	if err = gorgonia.Let(x2, b); err != nil {
		t.Fatal(err)
	}
	if err = vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	return scalar(val)
}

func TestPenaltyOne(t *testing.T) {
	// slope magnitude 2 * 0.5 = 1, penalty 0
	if p := evalPenalty(t, "one", linearScorer(0.5)); math.Abs(p) > 1e-10 {
		t.Error("unit slope: got", p, "expect 0")
	}
	// slope magnitude 2, penalty (2-1)^2 = 1
	if p := evalPenalty(t, "one", linearScorer(1)); math.Abs(p-1) > 1e-10 {
		t.Error("got", p, "expect 1")
	}
}

func TestPenaltyZero(t *testing.T) {
	// slope magnitude 1: penalty 1/2
	if p := evalPenalty(t, "zero", linearScorer(0.5)); math.Abs(p-0.5) > 1e-10 {
		t.Error("got", p, "expect 0.5")
	}
	// constant score gives zero penalty
	if p := evalPenalty(t, "zero", linearScorer(0)); math.Abs(p) > 1e-10 {
		t.Error("zero slope: got", p, "expect 0")
	}
}

func TestPenaltyErrors(t *testing.T) {
	if _, err := NewPenalty("two"); !errors.Is(err, ErrUnknownPenalty) {
		t.Error("expect ErrUnknownPenalty - got", err)
	}
	pen := &Penalty{Center: 0.5}
	if _, err := pen.Build(nil, nil, nil); !errors.Is(err, ErrInvalidPenaltyCenter) {
		t.Error("expect ErrInvalidPenaltyCenter - got", err)
	}
}

func TestInterpolate(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	shape := []int{3, 1, 2, 2}
	real := normTensor(rng, shape...)
	fake := normTensor(rng, shape...)
	out := Interpolate(real, fake, rng)
	rd, fd, od := real.Data().([]float64), fake.Data().([]float64), out.Data().([]float64)
	n := 4
	for b := 0; b < 3; b++ {
		// one mixing coefficient per sample, consistent over its elements
		a := (od[b*n] - fd[b*n]) / (rd[b*n] - fd[b*n])
		if a < 0 || a >= 1 {
			t.Error("sample", b, "coefficient out of range:", a)
		}
		for i := b*n + 1; i < (b+1)*n; i++ {
			got := a*rd[i] + (1-a)*fd[i]
			if math.Abs(od[i]-got) > 1e-10 {
				t.Errorf("sample %d element %d: got %v expect %v", b, i, od[i], got)
			}
		}
	}
}

func TestPenaltyInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	shape := []int{2, 1, 2, 2}
	real := normTensor(rng, shape...)
	fake := normTensor(rng, shape...)
	// zero centered: the pair is the real batch and a nearby perturbation of it
	pen := &Penalty{Center: 0}
	x1, x2 := pen.Inputs(real, fake, rng)
	if x1 != real {
		t.Error("zero centered: first point should be the real batch")
	}
	rd, pd := real.Data().([]float64), x2.Data().([]float64)
	for i := range rd {
		d := math.Abs(pd[i] - rd[i])
		if d == 0 || d > 0.2 {
			t.Error("element", i, "perturbation out of range:", d)
		}
	}
	// one centered: two independent interpolations, so the pair differs
	pen = &Penalty{Center: 1}
	x1, x2 = pen.Inputs(real, fake, rng)
	if x1 == x2 {
		t.Fatal("one centered: pair should be distinct tensors")
	}
	d1, d2 := x1.Data().([]float64), x2.Data().([]float64)
	same := true
	for i := range d1 {
		if d1[i] != d2[i] {
			same = false
		}
	}
	if same {
		t.Error("one centered: pair values should differ")
	}
}
