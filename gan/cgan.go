package gan

import (
	"fmt"
	"math/rand"
	"path"
	"time"

	"github.com/jnb666/mirage/img"
	"github.com/jnb666/mirage/stats"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// CConfig has the settings for a conditional training run over a labelled corpus.
type CConfig struct {
	DataDir      string
	IndexFile    string
	Labels       string
	MinYear      int
	ImageSize    int
	Latent       int
	Batch        int
	Epochs       int
	Lr           float64
	Beta1        float64
	Beta2        float64
	Loss         string
	VerboseEvery int
	SaveEvery    int
	OutDir       string
	RandSeed     int64
	UseGPU       bool
}

func DefaultCConfig() *CConfig {
	return &CConfig{
		MinYear:      2005,
		ImageSize:    64,
		Latent:       200,
		Batch:        32,
		Epochs:       150,
		Lr:           0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Loss:         "",
		VerboseEvery: 100,
		SaveEvery:    500,
		OutDir:       "result",
	}
}

// validate checks settings used as divisors or graph shapes so bad values fail before
// any training step runs.
func (c *CConfig) validate() error {
	if c.VerboseEvery < 1 || c.SaveEvery < 1 {
		return fmt.Errorf("%w: VerboseEvery and SaveEvery must be >= 1", ErrInvalidConfig)
	}
	if c.Batch < 1 || c.Latent < 1 {
		return fmt.Errorf("%w: Batch and Latent must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func (c *CConfig) Fields() []string           { return fieldNames(*c) }
func (c *CConfig) Get(key string) interface{} { return fieldValue(*c, key) }
func (c *CConfig) String() string             { return configString(*c) }

type linParam struct {
	W *tensor.Dense
	B *tensor.Dense
}

func newLinStack(rng *rand.Rand, sizes []int) []linParam {
	params := make([]linParam, len(sizes)-1)
	for i := range params {
		params[i] = linParam{
			W: glorotTensor(rng, sizes[i+1], sizes[i]),
			B: zeroTensor(1, sizes[i+1]),
		}
	}
	return params
}

// CGAN is the conditional model: fully connected generator and discriminator conditioned
// by concatenating a one hot label onto the latent vector or the flattened image.
type CGAN struct {
	Latent  int
	Classes int
	Size    int
	gen     []linParam
	dis     []linParam
	rng     *rand.Rand
}

func NewCGAN(conf *CConfig, classes int, rng *rand.Rand) *CGAN {
	nfeat := img.Channels * conf.ImageSize * conf.ImageSize
	return &CGAN{
		Latent:  conf.Latent,
		Classes: classes,
		Size:    conf.ImageSize,
		gen:     newLinStack(rng, []int{conf.Latent + classes, 256, 512, nfeat}),
		dis:     newLinStack(rng, []int{nfeat + classes, 512, 256, 1}),
		rng:     rng,
	}
}

// GenParams returns the generator parameter tensors.
func (m *CGAN) GenParams() []*tensor.Dense { return linTensors(m.gen) }

// DisParams returns the discriminator parameter tensors.
func (m *CGAN) DisParams() []*tensor.Dense { return linTensors(m.dis) }

func linTensors(params []linParam) []*tensor.Dense {
	var out []*tensor.Dense
	for _, p := range params {
		out = append(out, p.W, p.B)
	}
	return out
}

// BoundMLP is a fully connected stack bound to one expression graph.
type BoundMLP struct {
	ws, bs []*gorgonia.Node
}

func bindLinStack(g *gorgonia.ExprGraph, params []linParam, prefix string) *BoundMLP {
	b := &BoundMLP{}
	for i, p := range params {
		b.ws = append(b.ws, gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(p.W.Shape()...),
			gorgonia.WithName(fmt.Sprintf("%s_w%d", prefix, i)), gorgonia.WithValue(p.W)))
		b.bs = append(b.bs, gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(p.B.Shape()...),
			gorgonia.WithName(fmt.Sprintf("%s_b%d", prefix, i)), gorgonia.WithValue(p.B)))
	}
	return b
}

func (b *BoundMLP) Learnables() gorgonia.Nodes {
	return append(append(gorgonia.Nodes{}, b.ws...), b.bs...)
}

// Forward applies the linear stack with leaky rectifier activations. The final layer
// output goes through tanh when tanhOut is set, else it is left raw.
func (b *BoundMLP) Forward(x *gorgonia.Node, tanhOut bool) (*gorgonia.Node, error) {
	h := x
	var err error
	for i := range b.ws {
		wT, err := gorgonia.Transpose(b.ws[i])
		if err != nil {
			return nil, err
		}
		h, err = gorgonia.Mul(h, wT)
		if err != nil {
			return nil, errors.Wrapf(err, "linear layer %d", i)
		}
		h, err = gorgonia.BroadcastAdd(h, b.bs[i], nil, []byte{0})
		if err != nil {
			return nil, errors.Wrapf(err, "linear layer %d bias", i)
		}
		if i < len(b.ws)-1 {
			h, err = gorgonia.LeakyRelu(h, 0.2)
		} else if tanhOut {
			h, err = gorgonia.Tanh(h)
		}
		if err != nil {
			return nil, err
		}
	}
	return h, err
}

// CTrainer runs the conditional pipeline over shuffled minibatches of a labelled data set.
// With no loss strategy configured it trains against label smoothed targets with a mean
// squared error criterion; otherwise the named adversarial strategy is used.
type CTrainer struct {
	Conf     *CConfig
	Data     *img.Set
	Model    *CGAN
	Strategy Strategy
	History  *stats.History
	rng      *rand.Rand

	dGraph  *gorgonia.ExprGraph
	dRealX  *gorgonia.Node
	dFakeX  *gorgonia.Node
	dLabel  *gorgonia.Node
	dRealT  *gorgonia.Node
	dFakeT  *gorgonia.Node
	dLearn  gorgonia.Nodes
	dLoss   gorgonia.Value
	dVM     gorgonia.VM
	dSolver gorgonia.Solver

	gGraph  *gorgonia.ExprGraph
	gNoise  *gorgonia.Node
	gLabel  *gorgonia.Node
	gRealT  *gorgonia.Node
	gLearn  gorgonia.Nodes
	gLoss   gorgonia.Value
	gFake   gorgonia.Value
	gVM     gorgonia.VM
	gSolver gorgonia.Solver
}

// NewCTrainer validates the configuration and builds both training graphs.
func NewCTrainer(conf *CConfig, data *img.Set, rng *rand.Rand) (*CTrainer, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	var strategy Strategy
	var err error
	if conf.Loss != "" {
		if strategy, err = StrategyByName(conf.Loss); err != nil {
			return nil, err
		}
	}
	t := &CTrainer{
		Conf:     conf,
		Data:     data,
		Model:    NewCGAN(conf, data.Classes(), rng),
		Strategy: strategy,
		History:  stats.NewHistory("G", "D"),
		rng:      rng,
	}
	if err := t.buildDis(); err != nil {
		return nil, errors.Wrap(err, "cgan: discriminator graph")
	}
	if err := t.buildGen(); err != nil {
		return nil, errors.Wrap(err, "cgan: generator graph")
	}
	return t, nil
}

func (t *CTrainer) nfeat() int {
	return img.Channels * t.Conf.ImageSize * t.Conf.ImageSize
}

func (t *CTrainer) buildDis() error {
	g := gorgonia.NewGraph()
	t.dGraph = g
	n, nfeat, classes := t.Conf.Batch, t.nfeat(), t.Data.Classes()
	t.dRealX = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, nfeat), gorgonia.WithName("real"))
	t.dFakeX = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, nfeat), gorgonia.WithName("fake"))
	t.dLabel = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, classes), gorgonia.WithName("label"))
	t.dRealT = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, 1), gorgonia.WithName("real_target"))
	t.dFakeT = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, 1), gorgonia.WithName("fake_target"))

	dis := bindLinStack(g, t.Model.dis, "dis")
	t.dLearn = dis.Learnables()
	realScore, err := t.score(dis, t.dRealX, t.dLabel)
	if err != nil {
		return err
	}
	fakeScore, err := t.score(dis, t.dFakeX, t.dLabel)
	if err != nil {
		return err
	}
	var cost *gorgonia.Node
	if t.Strategy != nil {
		cost, err = t.Strategy.DLoss(realScore, fakeScore)
	} else {
		cost, err = smoothedDLoss(realScore, fakeScore, t.dRealT, t.dFakeT)
	}
	if err != nil {
		return err
	}
	gorgonia.Read(cost, &t.dLoss)
	if _, err := gorgonia.Grad(cost, t.dLearn...); err != nil {
		return err
	}
	t.dVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(t.dLearn...))
	t.dSolver = t.solver()
	return nil
}

func (t *CTrainer) buildGen() error {
	g := gorgonia.NewGraph()
	t.gGraph = g
	n, classes := t.Conf.Batch, t.Data.Classes()
	t.gNoise = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, t.Conf.Latent), gorgonia.WithName("noise"))
	t.gLabel = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, classes), gorgonia.WithName("label"))
	t.gRealT = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(n, 1), gorgonia.WithName("real_target"))

	gen := bindLinStack(g, t.Model.gen, "gen")
	t.gLearn = gen.Learnables()
	in, err := gorgonia.Concat(1, t.gNoise, t.gLabel)
	if err != nil {
		return err
	}
	fake, err := gen.Forward(in, true)
	if err != nil {
		return err
	}
	gorgonia.Read(fake, &t.gFake)

	disCopy := bindLinStack(g, t.Model.dis, "dis_copy")
	score, err := t.score(disCopy, fake, t.gLabel)
	if err != nil {
		return err
	}
	var cost *gorgonia.Node
	if t.Strategy != nil {
		cost, err = t.Strategy.GLoss(score)
	} else {
		cost, err = mseLoss(score, t.gRealT)
	}
	if err != nil {
		return err
	}
	gorgonia.Read(cost, &t.gLoss)
	if _, err := gorgonia.Grad(cost, t.gLearn...); err != nil {
		return err
	}
	t.gVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(t.gLearn...))
	t.gSolver = t.solver()
	return nil
}

func (t *CTrainer) score(dis *BoundMLP, x, label *gorgonia.Node) (*gorgonia.Node, error) {
	in, err := gorgonia.Concat(1, x, label)
	if err != nil {
		return nil, err
	}
	return dis.Forward(in, false)
}

// (mse(D(real), gt) + mse(D(fake), fakeTarget)) / 2 with label smoothed targets
func smoothedDLoss(realScore, fakeScore, realT, fakeT *gorgonia.Node) (*gorgonia.Node, error) {
	realLoss, err := mseLoss(realScore, realT)
	if err != nil {
		return nil, err
	}
	fakeLoss, err := mseLoss(fakeScore, fakeT)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(realLoss, fakeLoss)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(sum, gorgonia.NewConstant(2.0))
}

func (t *CTrainer) solver() gorgonia.Solver {
	return gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(t.Conf.Lr),
		gorgonia.WithBeta1(t.Conf.Beta1),
		gorgonia.WithBeta2(t.Conf.Beta2),
		gorgonia.WithBatchSize(float64(t.Conf.Batch)),
	)
}

// Run trains for the configured number of epochs over the shuffled data set. Batches which
// do not fill the fixed graph shape are dropped.
func (t *CTrainer) Run(mon Monitor) error {
	conf := t.Conf
	n := conf.Batch
	batches := t.Data.Len() / n
	if batches == 0 {
		return fmt.Errorf("cgan: data set smaller than one batch of %d", n)
	}
	start := time.Now()
	stop := false
	for epoch := 0; epoch < conf.Epochs && !stop; epoch++ {
		t.Data.Shuffle(t.rng)
		for b := 0; b < batches && !stop; b++ {
			images, labels, err := t.Data.Batch(b*n, n)
			if err != nil {
				return err
			}
			if err := images.Reshape(n, t.nfeat()); err != nil {
				return err
			}
			dLoss, gLoss, err := t.step(images, labels)
			if err != nil {
				return errors.Wrapf(err, "cgan: epoch %d batch %d", epoch, b)
			}
			done := epoch*batches + b + 1
			t.History.Add("G", done, gLoss)
			t.History.Add("D", done, dLoss)
			if done%conf.VerboseEvery == 0 {
				fmt.Printf("[Epoch %d/%d] [Batch %d/%d] [D loss: %f] [G loss: %f]\n",
					epoch, conf.Epochs, b+1, batches, dLoss, gLoss)
			}
			if done%conf.SaveEvery == 0 {
				if err := t.saveSamples(done); err != nil {
					return err
				}
			}
			if mon != nil {
				stop = mon.Epoch(Snapshot{
					Scale: 0, Scales: 1, Epoch: done, Epochs: conf.Epochs * batches,
					DLoss: dLoss, GLoss: gLoss, Elapsed: time.Since(start),
				})
			}
		}
	}
	return nil
}

// step performs one discriminator and one generator update on the given batch.
func (t *CTrainer) step(images, labels *tensor.Dense) (dLoss, gLoss float64, err error) {
	n := t.Conf.Batch
	gt := smoothTargets(n, 0.7, 0.3, t.rng)
	fakeT := smoothTargets(n, 0, 0.3, t.rng)

	// generate a fake batch for the discriminator: read from the generator graph without stepping
	if err = letAll(map[*gorgonia.Node]gorgonia.Value{
		t.gNoise: normTensor(t.rng, n, t.Conf.Latent),
		t.gLabel: labels,
		t.gRealT: gt,
	}); err != nil {
		return
	}
	if err = t.gVM.RunAll(); err != nil {
		return
	}
	fake := t.gFake.(*tensor.Dense).Clone().(*tensor.Dense)
	t.gVM.Reset()

	if err = letAll(map[*gorgonia.Node]gorgonia.Value{
		t.dRealX: images,
		t.dFakeX: fake,
		t.dLabel: labels,
		t.dRealT: gt,
		t.dFakeT: fakeT,
	}); err != nil {
		return
	}
	if err = t.dVM.RunAll(); err != nil {
		return
	}
	if err = t.dSolver.Step(gorgonia.NodesToValueGrads(t.dLearn)); err != nil {
		return
	}
	t.dVM.Reset()
	dLoss = scalar(t.dLoss)

	// train the generator to fool the updated discriminator
	if err = letAll(map[*gorgonia.Node]gorgonia.Value{
		t.gNoise: normTensor(t.rng, n, t.Conf.Latent),
		t.gLabel: labels,
		t.gRealT: smoothTargets(n, 0.7, 0.3, t.rng),
	}); err != nil {
		return
	}
	if err = t.gVM.RunAll(); err != nil {
		return
	}
	if err = t.gSolver.Step(gorgonia.NodesToValueGrads(t.gLearn)); err != nil {
		return
	}
	t.gVM.Reset()
	gLoss = scalar(t.gLoss)
	return dLoss, gLoss, nil
}

// saveSamples writes a 5x5 grid of generated images cycling over the label classes.
func (t *CTrainer) saveSamples(done int) error {
	const rows, cols = 5, 5
	g := gorgonia.NewGraph()
	noise := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(rows*cols, t.Conf.Latent), gorgonia.WithName("noise"))
	label := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(rows*cols, t.Data.Classes()), gorgonia.WithName("label"))
	in, err := gorgonia.Concat(1, noise, label)
	if err != nil {
		return err
	}
	out, err := bindLinStack(g, t.Model.gen, "gen").Forward(in, true)
	if err != nil {
		return err
	}
	var val gorgonia.Value
	gorgonia.Read(out, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	classes := t.Data.Classes()
	yData := make([]float64, rows*cols*classes)
	for i := 0; i < rows*cols; i++ {
		copy(yData[i*classes:], t.Data.Vocab.OneHot(i%classes))
	}
	if err = letAll(map[*gorgonia.Node]gorgonia.Value{
		noise: normTensor(t.rng, rows*cols, t.Conf.Latent),
		label: tensor.New(tensor.WithShape(rows*cols, classes), tensor.WithBacking(yData)),
	}); err != nil {
		return err
	}
	if err := vm.RunAll(); err != nil {
		return err
	}
	batch := val.(*tensor.Dense).Clone().(*tensor.Dense)
	if err := batch.Reshape(rows*cols, img.Channels, t.Conf.ImageSize, t.Conf.ImageSize); err != nil {
		return err
	}
	images, err := img.FromTensor(batch)
	if err != nil {
		return err
	}
	return img.SavePNG(path.Join(t.Conf.OutDir, fmt.Sprintf("%d.png", done)), img.Grid(images, cols))
}

// Close releases the tape machines.
func (t *CTrainer) Close() {
	t.dVM.Close()
	t.gVM.Close()
}

// smoothTargets draws label smoothed targets: offset + spread*N(0,1) per sample.
func smoothTargets(n int, offset, spread float64, rng *rand.Rand) *tensor.Dense {
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = offset + spread*rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(n, 1), tensor.WithBacking(backing))
}
