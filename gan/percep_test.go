package gan

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// feature extractor which returns the input as its only block
type identityFeatures struct{}

func (identityFeatures) Features(x *gorgonia.Node) ([]*gorgonia.Node, error) {
	return []*gorgonia.Node{x}, nil
}

func constTensor(val float64, shape ...int) *tensor.Dense {
	t := zeroTensor(shape...)
	data := t.Data().([]float64)
	for i := range data {
		data[i] = val
	}
	return t
}

func runNode(t *testing.T, g *gorgonia.ExprGraph, node *gorgonia.Node, feed map[*gorgonia.Node]gorgonia.Value) gorgonia.Value {
	t.Helper()
	var val gorgonia.Value
	gorgonia.Read(node, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := letAll(feed); err != nil {
		t.Fatal(err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	return val
}

func TestGramMatrix(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 2, 1, 2), gorgonia.WithName("x"))
	gram, err := GramMatrix(x)
	if err != nil {
		t.Fatal(err)
	}
	in := tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
	val := runNode(t, g, gram, map[*gorgonia.Node]gorgonia.Value{x: in})
	if s := val.Shape(); !reflect.DeepEqual([]int(s), []int{1, 2, 2}) {
		t.Fatal("bad shape:", s)
	}
	// [[5 11] [11 25]] / 4
	expect := []float64{1.25, 2.75, 2.75, 6.25}
	data := val.Data().([]float64)
	for i := range expect {
		if math.Abs(data[i]-expect[i]) > 1e-10 {
			t.Error("entry", i, "got", data[i], "expect", expect[i])
		}
	}
}

func TestGramMatrixRank(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("x"))
	if _, err := GramMatrix(x); err == nil {
		t.Error("expect error for non 4 dimensional input")
	}
}

func TestFeatureLoss(t *testing.T) {
	shape := []int{1, 2, 2, 2}
	for _, tc := range []struct {
		p      int
		expect float64
	}{{1, 2}, {2, 4}} {
		g := gorgonia.NewGraph()
		real := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("real"))
		fake := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("fake"))
		loss, err := FeatureLoss(identityFeatures{}, real, fake, tc.p)
		if err != nil {
			t.Fatal(err)
		}
		val := runNode(t, g, loss, map[*gorgonia.Node]gorgonia.Value{
			real: constTensor(2, shape...),
			fake: zeroTensor(shape...),
		})
		if got := scalar(val); math.Abs(got-tc.expect) > 1e-10 {
			t.Errorf("p=%d: got %v expect %v", tc.p, got, tc.expect)
		}
	}
}

func TestStyleLossIdentical(t *testing.T) {
	shape := []int{1, 2, 2, 2}
	g := gorgonia.NewGraph()
	real := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("real"))
	fake := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("fake"))
	loss, err := StyleLoss(identityFeatures{}, real, fake, []int{0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(6))
	in := normTensor(rng, shape...)
	val := runNode(t, g, loss, map[*gorgonia.Node]gorgonia.Value{real: in, fake: in})
	if got := scalar(val); math.Abs(got) > 1e-10 {
		t.Error("identical inputs should give zero loss: got", got)
	}
	if _, err = StyleLoss(identityFeatures{}, real, fake, []int{1}, 2); err == nil {
		t.Error("expect error for block index out of range")
	}
}

func TestContentLossErrors(t *testing.T) {
	g := gorgonia.NewGraph()
	shape := []int{1, 2, 2, 2}
	real := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("real"))
	fake := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shape...), gorgonia.WithName("fake"))
	if _, err := ContentLoss(identityFeatures{}, real, fake, 0, 3); err == nil {
		t.Error("expect error for p = 3")
	}
	if _, err := ContentLoss(identityFeatures{}, real, fake, 2, 1); err == nil {
		t.Error("expect error for block index out of range")
	}
}

func TestConvFeatures(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := NewConvFeatures(rng, 4, 2)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 3, 6, 6), gorgonia.WithName("x"))
	acts, err := f.Features(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 2 {
		t.Fatal("expect 2 blocks - got", len(acts))
	}
	for i, channels := range []int{4, 2} {
		shape := acts[i].Shape()
		if !reflect.DeepEqual([]int(shape), []int{1, channels, 6, 6}) {
			t.Errorf("block %d: shape %v", i, shape)
		}
	}
}
