package gan

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/jnb666/mirage/img"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Dim is the spatial size of one scale.
type Dim struct {
	H, W int
}

// conv parameters persist across graphs: each graph binds them as nodes sharing the
// same backing tensors so solver updates are visible everywhere.
type convParam struct {
	W *tensor.Dense
	B *tensor.Dense
}

func newConvStack(rng *rand.Rand, in, hidden, out, layers int) []convParam {
	params := make([]convParam, layers)
	for i := range params {
		cin, cout := hidden, hidden
		if i == 0 {
			cin = in
		}
		if i == layers-1 {
			cout = out
		}
		params[i] = convParam{
			W: glorotTensor(rng, cout, cin, 3, 3),
			B: zeroTensor(1, cout, 1, 1),
		}
	}
	return params
}

func cloneConvStack(params []convParam) []convParam {
	out := make([]convParam, len(params))
	for i, p := range params {
		out[i] = convParam{
			W: p.W.Clone().(*tensor.Dense),
			B: p.B.Clone().(*tensor.Dense),
		}
	}
	return out
}

// Generator is the progressive synthesizer: a growable list of per scale residual conv
// stages. Each stage refines an upsampled prior image plus scaled gaussian noise. The
// stage being trained is always the last one; earlier stages are frozen.
type Generator struct {
	Dims     []Dim
	Channels int
	Layers   int
	NoiseAmp float64
	stages   []*genStage
	recSeed  *tensor.Dense
	rng      *rand.Rand
}

type genStage struct {
	conv []convParam
	amp  float64
}

// NewGenerator creates the scale 0 stage and draws the fixed reconstruction seed.
func NewGenerator(levels []img.Level, conf *Config, rng *rand.Rand) *Generator {
	dims := make([]Dim, len(levels))
	for i, l := range levels {
		dims[i] = Dim{H: l.Height, W: l.Width}
	}
	G := &Generator{
		Dims:     dims,
		Channels: conf.Channels,
		Layers:   conf.Layers,
		NoiseAmp: conf.NoiseAmp,
		rng:      rng,
	}
	G.stages = []*genStage{{conv: newConvStack(rng, img.Channels, conf.Channels, img.Channels, conf.Layers), amp: 1}}
	G.recSeed = normTensor(rng, 1, img.Channels, dims[0].H, dims[0].W)
	return G
}

// Scale returns the index of the stage currently being trained.
func (G *Generator) Scale() int { return len(G.stages) - 1 }

func (G *Generator) Scales() int { return len(G.Dims) }

// Params returns the parameter tensors of the given stage.
func (G *Generator) Params(scale int) []*tensor.Dense {
	return stackParams(G.stages[scale].conv)
}

// Progress irreversibly adds capacity for the next scale. The new stage inherits the
// completed stage's parameter values and its noise amplitude is fixed from the
// reconstruction error at the scale just trained.
func (G *Generator) Progress(recFake, real *tensor.Dense) {
	s := G.Scale()
	next := &genStage{
		conv: cloneConvStack(G.stages[s].conv),
		amp:  G.NoiseAmp * rmse(recFake, real),
	}
	G.stages = append(G.stages, next)
}

// Bind creates graph nodes for the stage parameters. Node names are prefixed so that a
// graph may hold several copies (e.g. the discriminator copy inside the generator graph).
func (G *Generator) Bind(g *gorgonia.ExprGraph, scale int, prefix string) *BoundGen {
	ws, bs := bindConvStack(g, G.stages[scale].conv, prefix)
	return &BoundGen{ws: ws, bs: bs}
}

// BoundGen is a generator stage bound to one expression graph.
type BoundGen struct {
	ws, bs []*gorgonia.Node
}

// Forward builds out = prior + tanh(conv stack(prior + noise)).
func (b *BoundGen) Forward(prior, noise *gorgonia.Node) (*gorgonia.Node, error) {
	x, err := gorgonia.Add(prior, noise)
	if err != nil {
		return nil, err
	}
	h, err := convChain(x, b.ws, b.bs, true)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(prior, h)
}

func (b *BoundGen) Learnables() gorgonia.Nodes {
	return append(append(gorgonia.Nodes{}, b.ws...), b.bs...)
}

// noise for stage s: the fixed seed at scale 0 in reconstruction mode, zero at later
// reconstruction scales, or fresh scaled gaussian noise otherwise.
func (G *Generator) stageNoise(s int, dim Dim, rec bool) *tensor.Dense {
	if rec {
		if s == 0 {
			return G.recSeed
		}
		return zeroTensor(1, img.Channels, dim.H, dim.W)
	}
	return scaleTensor(normTensor(G.rng, 1, img.Channels, dim.H, dim.W), G.stages[s].amp)
}

// runStage evaluates one stage at the given size on a fresh inference graph.
func (G *Generator) runStage(s int, dim Dim, prior, noise *tensor.Dense) (*tensor.Dense, error) {
	g := gorgonia.NewGraph()
	pn := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, img.Channels, dim.H, dim.W), gorgonia.WithName("prior"))
	zn := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, img.Channels, dim.H, dim.W), gorgonia.WithName("noise"))
	out, err := G.Bind(g, s, fmt.Sprintf("gen%d", s)).Forward(pn, zn)
	if err != nil {
		return nil, errors.Wrapf(err, "generator: build stage %d", s)
	}
	var val gorgonia.Value
	gorgonia.Read(out, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := gorgonia.Let(pn, prior); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(zn, noise); err != nil {
		return nil, err
	}
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrapf(err, "generator: run stage %d", s)
	}
	return val.(*tensor.Dense).Clone().(*tensor.Dense), nil
}

// chain evaluates stages 0..last at the given dims, upsampling between stages, and
// returns the output of stage last.
func (G *Generator) chain(last int, dims []Dim, rec bool) (*tensor.Dense, error) {
	prior := zeroTensor(1, img.Channels, dims[0].H, dims[0].W)
	for s := 0; s <= last; s++ {
		out, err := G.runStage(s, dims[s], prior, G.stageNoise(s, dims[s], rec))
		if err != nil {
			return nil, err
		}
		if s == last {
			return out, nil
		}
		prior, err = img.ResizeTensor(out, dims[s+1].W, dims[s+1].H)
		if err != nil {
			return nil, err
		}
	}
	return prior, nil
}

// Prior evaluates the frozen stages below scale and upsamples the result to the scale size,
// giving the prior input for the current stage. At scale 0 the prior is all zeros.
func (G *Generator) Prior(scale int, rec bool) (*tensor.Dense, error) {
	if scale == 0 {
		return zeroTensor(1, img.Channels, G.Dims[0].H, G.Dims[0].W), nil
	}
	out, err := G.chain(scale-1, G.Dims, rec)
	if err != nil {
		return nil, err
	}
	return img.ResizeTensor(out, G.Dims[scale].W, G.Dims[scale].H)
}

// Synthesize generates an image batch at the given scale. In reconstruction mode the fixed
// seed reproduces the training image deterministically.
func (G *Generator) Synthesize(scale int, rec bool) (*tensor.Dense, error) {
	prior, err := G.Prior(scale, rec)
	if err != nil {
		return nil, err
	}
	return G.runStage(scale, G.Dims[scale], prior, G.stageNoise(scale, G.Dims[scale], rec))
}

// Evaluate reruns the whole chain at held out sizes: the conv parameters are resolution
// independent so any geometric size schedule with one entry per stage will do.
func (G *Generator) Evaluate(dims []Dim) (*tensor.Dense, error) {
	if len(dims) != len(G.stages) {
		return nil, fmt.Errorf("generator: Evaluate needs %d sizes - have %d", len(G.stages), len(dims))
	}
	return G.chain(len(G.stages)-1, dims, false)
}

// Discriminator is the progressive scorer. Like the generator it grows one stage per
// scale; only the current stage is used to score images at the scale being trained.
type Discriminator struct {
	Channels int
	Layers   int
	stages   []*disStage
	rng      *rand.Rand
}

type disStage struct {
	conv []convParam
}

func NewDiscriminator(conf *Config, rng *rand.Rand) *Discriminator {
	D := &Discriminator{Channels: conf.Channels, Layers: conf.Layers, rng: rng}
	D.stages = []*disStage{{conv: newConvStack(rng, img.Channels, conf.Channels, 1, conf.Layers)}}
	return D
}

func (D *Discriminator) Scale() int { return len(D.stages) - 1 }

func (D *Discriminator) Params(scale int) []*tensor.Dense {
	return stackParams(D.stages[scale].conv)
}

// Progress adds the scorer stage for the next scale, inheriting the current values.
func (D *Discriminator) Progress() {
	s := D.Scale()
	D.stages = append(D.stages, &disStage{conv: cloneConvStack(D.stages[s].conv)})
}

// Bind creates graph nodes for the stage parameters, shared by every Score call on the
// returned scorer.
func (D *Discriminator) Bind(g *gorgonia.ExprGraph, scale int, prefix string) *BoundDis {
	ws, bs := bindConvStack(g, D.stages[scale].conv, prefix)
	return &BoundDis{ws: ws, bs: bs}
}

// BoundDis is a discriminator stage bound to one expression graph.
type BoundDis struct {
	ws, bs []*gorgonia.Node
}

// Score maps an image batch node to a per sample scalar score of shape (batch).
func (b *BoundDis) Score(x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := convChain(x, b.ws, b.bs, false)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(h, 1, 2, 3)
}

func (b *BoundDis) Learnables() gorgonia.Nodes {
	return append(append(gorgonia.Nodes{}, b.ws...), b.bs...)
}

func bindConvStack(g *gorgonia.ExprGraph, params []convParam, prefix string) (ws, bs []*gorgonia.Node) {
	for i, p := range params {
		ws = append(ws, gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(p.W.Shape()...),
			gorgonia.WithName(fmt.Sprintf("%s_w%d", prefix, i)), gorgonia.WithValue(p.W)))
		bs = append(bs, gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(p.B.Shape()...),
			gorgonia.WithName(fmt.Sprintf("%s_b%d", prefix, i)), gorgonia.WithValue(p.B)))
	}
	return ws, bs
}

// convChain applies 3x3 stride 1 pad 1 convolutions with leaky rectifier activations.
// The final layer output goes through tanh when tanhOut is set, else it is left raw.
func convChain(x *gorgonia.Node, ws, bs []*gorgonia.Node, tanhOut bool) (*gorgonia.Node, error) {
	h := x
	var err error
	for i := range ws {
		h, err = gorgonia.Conv2d(h, ws[i], tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
		if err != nil {
			return nil, errors.Wrapf(err, "conv layer %d", i)
		}
		h, err = gorgonia.BroadcastAdd(h, bs[i], nil, []byte{0, 2, 3})
		if err != nil {
			return nil, errors.Wrapf(err, "conv layer %d bias", i)
		}
		if i < len(ws)-1 {
			h, err = gorgonia.LeakyRelu(h, 0.2)
		} else if tanhOut {
			h, err = gorgonia.Tanh(h)
		}
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

func stackParams(params []convParam) []*tensor.Dense {
	var out []*tensor.Dense
	for _, p := range params {
		out = append(out, p.W, p.B)
	}
	return out
}

func glorotTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	recep := 1
	for _, d := range shape[2:] {
		recep *= d
	}
	sd := math.Sqrt(2.0 / float64((shape[0]+shape[1])*recep))
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = rng.NormFloat64() * sd
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func normTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func zeroTensor(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float64))
}

func scaleTensor(t *tensor.Dense, scale float64) *tensor.Dense {
	data := t.Data().([]float64)
	for i := range data {
		data[i] *= scale
	}
	return t
}

func rmse(a, b *tensor.Dense) float64 {
	x, y := a.Data().([]float64), b.Data().([]float64)
	sum := 0.0
	for i := range x {
		sum += (x[i] - y[i]) * (x[i] - y[i])
	}
	return math.Sqrt(sum / float64(len(x)))
}
