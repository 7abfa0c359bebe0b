package gan

import (
	"math/rand"

	"github.com/jnb666/mirage/img"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// session holds the expression graphs, tape machines and solvers for one scale. Two graphs
// are used: the discriminator trains against materialized fakes so its fake scores are
// naturally detached, while the generator graph embeds a copy of the discriminator whose
// parameter nodes share the discriminator's backing tensors but are never stepped.
// Closing the session releases both machines before the models progress to the next scale.
type session struct {
	scale int
	conf  *Config
	G     *Generator
	D     *Discriminator
	level img.Level
	pen   *Penalty

	dGraph  *gorgonia.ExprGraph
	dReal   *gorgonia.Node
	dFake   *gorgonia.Node
	dPenA   *gorgonia.Node
	dPenB   *gorgonia.Node
	dLearn  gorgonia.Nodes
	dLoss   gorgonia.Value
	dVM     gorgonia.VM
	dSolver gorgonia.Solver

	gGraph    *gorgonia.ExprGraph
	gPrior    *gorgonia.Node
	gNoise    *gorgonia.Node
	gRecPrior *gorgonia.Node
	gRecNoise *gorgonia.Node
	gReal     *gorgonia.Node
	gLearn    gorgonia.Nodes
	gLoss     gorgonia.Value
	gVM       gorgonia.VM
	gSolver   gorgonia.Solver
}

// newSession builds both training graphs for the given scale with fresh Adam solvers.
func newSession(G *Generator, D *Discriminator, level img.Level, scale int, conf *Config,
	strategy Strategy, penalty *Penalty) (*session, error) {

	s := &session{scale: scale, conf: conf, G: G, D: D, level: level, pen: penalty}
	if err := s.buildDis(strategy, penalty); err != nil {
		return nil, errors.Wrapf(err, "scale %d: discriminator graph", scale)
	}
	if err := s.buildGen(strategy); err != nil {
		return nil, errors.Wrapf(err, "scale %d: generator graph", scale)
	}
	return s, nil
}

func (s *session) buildDis(strategy Strategy, penalty *Penalty) error {
	dim := s.G.Dims[s.scale]
	g := gorgonia.NewGraph()
	s.dGraph = g
	s.dReal = imageInput(g, "real", dim)
	s.dFake = imageInput(g, "fake", dim)
	s.dPenA = imageInput(g, "pen_a", dim)
	s.dPenB = imageInput(g, "pen_b", dim)

	dis := s.D.Bind(g, s.scale, "dis")
	s.dLearn = dis.Learnables()
	realScore, err := dis.Score(s.dReal)
	if err != nil {
		return err
	}
	fakeScore, err := dis.Score(s.dFake)
	if err != nil {
		return err
	}
	loss, err := strategy.DLoss(realScore, fakeScore)
	if err != nil {
		return err
	}
	pen, err := penalty.Build(dis.Score, s.dPenA, s.dPenB)
	if err != nil {
		return err
	}
	weighted, err := gorgonia.Mul(pen, gorgonia.NewConstant(s.conf.GpLambda))
	if err != nil {
		return err
	}
	cost, err := gorgonia.Add(loss, weighted)
	if err != nil {
		return err
	}
	gorgonia.Read(cost, &s.dLoss)
	if _, err := gorgonia.Grad(cost, s.dLearn...); err != nil {
		return errors.Wrap(err, "gradient")
	}
	s.dVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(s.dLearn...))
	s.dSolver = newSolver(s.conf)
	return nil
}

func (s *session) buildGen(strategy Strategy) error {
	dim := s.G.Dims[s.scale]
	g := gorgonia.NewGraph()
	s.gGraph = g
	s.gPrior = imageInput(g, "prior", dim)
	s.gNoise = imageInput(g, "noise", dim)
	s.gRecPrior = imageInput(g, "rec_prior", dim)
	s.gRecNoise = imageInput(g, "rec_noise", dim)
	s.gReal = imageInput(g, "real", dim)

	gen := s.G.Bind(g, s.scale, "gen")
	s.gLearn = gen.Learnables()
	fake, err := gen.Forward(s.gPrior, s.gNoise)
	if err != nil {
		return err
	}
	rec, err := gen.Forward(s.gRecPrior, s.gRecNoise)
	if err != nil {
		return err
	}

	disCopy := s.D.Bind(g, s.scale, "dis_copy")
	fakeScore, err := disCopy.Score(fake)
	if err != nil {
		return err
	}
	adv, err := strategy.GLoss(fakeScore)
	if err != nil {
		return err
	}
	recLoss, err := mseLoss(rec, s.gReal)
	if err != nil {
		return err
	}
	weighted, err := gorgonia.Mul(recLoss, gorgonia.NewConstant(s.conf.RecAlpha))
	if err != nil {
		return err
	}
	cost, err := gorgonia.Add(adv, weighted)
	if err != nil {
		return err
	}
	gorgonia.Read(cost, &s.gLoss)
	if _, err := gorgonia.Grad(cost, s.gLearn...); err != nil {
		return errors.Wrap(err, "gradient")
	}
	s.gVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(s.gLearn...))
	s.gSolver = newSolver(s.conf)
	return nil
}

// DStep performs one discriminator optimization step: synthesize a fake batch, score real
// and fake, add the weighted gradient penalty and update the discriminator parameters.
func (s *session) DStep(rng *rand.Rand) (float64, error) {
	fake, err := s.G.Synthesize(s.scale, false)
	if err != nil {
		return 0, err
	}
	penA, penB := s.pen.Inputs(s.level.Tensor, fake, rng)
	if err := letAll(map[*gorgonia.Node]gorgonia.Value{
		s.dReal: s.level.Tensor,
		s.dFake: fake,
		s.dPenA: penA,
		s.dPenB: penB,
	}); err != nil {
		return 0, err
	}
	if err := s.dVM.RunAll(); err != nil {
		return 0, errors.Wrapf(err, "scale %d: discriminator step", s.scale)
	}
	if err := s.dSolver.Step(gorgonia.NodesToValueGrads(s.dLearn)); err != nil {
		return 0, err
	}
	s.dVM.Reset()
	return scalar(s.dLoss), nil
}

// GStep performs one generator optimization step combining the adversarial loss on a fresh
// fake batch with the weighted reconstruction loss on the deterministic branch.
func (s *session) GStep() (float64, error) {
	dim := s.G.Dims[s.scale]
	prior, err := s.G.Prior(s.scale, false)
	if err != nil {
		return 0, err
	}
	recPrior, err := s.G.Prior(s.scale, true)
	if err != nil {
		return 0, err
	}
	if err := letAll(map[*gorgonia.Node]gorgonia.Value{
		s.gPrior:    prior,
		s.gNoise:    s.G.stageNoise(s.scale, dim, false),
		s.gRecPrior: recPrior,
		s.gRecNoise: s.G.stageNoise(s.scale, dim, true),
		s.gReal:     s.level.Tensor,
	}); err != nil {
		return 0, err
	}
	if err := s.gVM.RunAll(); err != nil {
		return 0, errors.Wrapf(err, "scale %d: generator step", s.scale)
	}
	if err := s.gSolver.Step(gorgonia.NodesToValueGrads(s.gLearn)); err != nil {
		return 0, err
	}
	s.gVM.Reset()
	return scalar(s.gLoss), nil
}

// Close releases the tape machines and drops the graphs so intermediate buffers for this
// scale can be reclaimed before the models grow.
func (s *session) Close() {
	s.dVM.Close()
	s.gVM.Close()
	s.dGraph, s.gGraph = nil, nil
}

func newSolver(conf *Config) gorgonia.Solver {
	return gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(conf.Lr),
		gorgonia.WithBeta1(conf.Beta1),
		gorgonia.WithBeta2(conf.Beta2),
		gorgonia.WithBatchSize(1),
	)
}

func imageInput(g *gorgonia.ExprGraph, name string, dim Dim) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, 4,
		gorgonia.WithShape(1, img.Channels, dim.H, dim.W), gorgonia.WithName(name))
}

func letAll(vals map[*gorgonia.Node]gorgonia.Value) error {
	for node, val := range vals {
		if err := gorgonia.Let(node, val); err != nil {
			return err
		}
	}
	return nil
}

func scalar(v gorgonia.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	}
	return 0
}
