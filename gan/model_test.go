package gan

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/jnb666/mirage/img"
	"gorgonia.org/gorgonia"
)

func tinyConfig() *Config {
	conf := DefaultConfig()
	conf.Channels = 4
	conf.Layers = 3
	return conf
}

func tinyLevels(t *testing.T) []img.Level {
	t.Helper()
	m := img.NewImage(12, 10)
	for i := range m.Pix {
		m.Pix[i] = float64(i%7) / 7
	}
	levels, err := img.BuildPyramid(m, 10, 4, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(levels) != 3 {
		t.Fatal("expect 3 levels - got", len(levels))
	}
	return levels
}

func TestProgress(t *testing.T) {
	conf := tinyConfig()
	rng := rand.New(rand.NewSource(1))
	levels := tinyLevels(t)
	G := NewGenerator(levels, conf, rng)
	D := NewDiscriminator(conf, rng)
	if G.Scale() != 0 || D.Scale() != 0 {
		t.Fatal("models should start at scale 0")
	}
	// one transition per scale boundary
	for scale := 0; scale+1 < len(levels); scale++ {
		rec, err := G.Synthesize(scale, true)
		if err != nil {
			t.Fatal(err)
		}
		G.Progress(rec, levels[scale].Tensor)
		D.Progress()
	}
	if G.Scale() != len(levels)-1 {
		t.Error("generator at scale", G.Scale(), "expect", len(levels)-1)
	}
	if D.Scale() != len(levels)-1 {
		t.Error("discriminator at scale", D.Scale(), "expect", len(levels)-1)
	}
	for s := 1; s <= G.Scale(); s++ {
		if amp := G.stages[s].amp; amp <= 0 {
			t.Error("stage", s, "noise amp should be positive: got", amp)
		}
		// new stage starts from the completed stage's values but owns its tensors
		if G.stages[s].conv[0].W == G.stages[s-1].conv[0].W {
			t.Error("stage", s, "should not share parameter tensors with the previous stage")
		}
	}
}

func TestSynthesize(t *testing.T) {
	conf := tinyConfig()
	rng := rand.New(rand.NewSource(2))
	levels := tinyLevels(t)
	G := NewGenerator(levels, conf, rng)
	for scale := 0; scale < len(levels); scale++ {
		out, err := G.Synthesize(scale, false)
		if err != nil {
			t.Fatal(err)
		}
		shape := out.Shape()
		expect := []int{1, img.Channels, levels[scale].Height, levels[scale].Width}
		if !reflect.DeepEqual([]int(shape), expect) {
			t.Errorf("scale %d: shape %v expect %v", scale, shape, expect)
		}
		if scale+1 < len(levels) {
			rec, err := G.Synthesize(scale, true)
			if err != nil {
				t.Fatal(err)
			}
			G.Progress(rec, levels[scale].Tensor)
		}
	}
	// the reconstruction branch is deterministic
	a, err := G.Synthesize(G.Scale(), true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := G.Synthesize(G.Scale(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Data(), b.Data()) {
		t.Error("reconstruction output should not change between calls")
	}
}

func TestEvaluate(t *testing.T) {
	conf := tinyConfig()
	rng := rand.New(rand.NewSource(3))
	levels := tinyLevels(t)
	G := NewGenerator(levels, conf, rng)
	if _, err := G.Evaluate([]Dim{{H: 4, W: 5}, {H: 8, W: 10}}); err == nil {
		t.Error("expect error when sizes do not match the stage count")
	}
	out, err := G.Evaluate([]Dim{{H: 6, W: 7}})
	if err != nil {
		t.Fatal(err)
	}
	shape := out.Shape()
	if !reflect.DeepEqual([]int(shape), []int{1, img.Channels, 6, 7}) {
		t.Error("bad shape:", shape)
	}
}

func TestDiscriminatorScore(t *testing.T) {
	conf := tinyConfig()
	rng := rand.New(rand.NewSource(4))
	D := NewDiscriminator(conf, rng)
	if n := len(D.Params(0)); n != 2*conf.Layers {
		t.Fatal("expect", 2*conf.Layers, "parameter tensors - got", n)
	}
	g := gorgonia.NewGraph()
	x := imageInput(g, "x", Dim{H: 5, W: 6})
	score, err := D.Bind(g, 0, "dis").Score(x)
	if err != nil {
		t.Fatal(err)
	}
	var val gorgonia.Value
	gorgonia.Read(score, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err = gorgonia.Let(x, normTensor(rng, 1, img.Channels, 5, 6)); err != nil {
		t.Fatal(err)
	}
	if err = vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	if s := val.Shape(); s.TotalSize() != 1 {
		t.Error("expect one score per sample - got shape", s)
	}
	t.Log("score:", scalar(val))
}
