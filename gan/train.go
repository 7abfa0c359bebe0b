package gan

import (
	"fmt"
	"math"
	"math/rand"
	"path"
	"time"

	"github.com/jnb666/mirage/img"
	"github.com/jnb666/mirage/stats"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Snapshot is the training state reported to the monitor at the end of each epoch.
type Snapshot struct {
	Scale   int
	Scales  int
	Epoch   int
	Epochs  int
	DLoss   float64
	GLoss   float64
	Elapsed time.Duration
}

// Monitor observes training progress, called once at the end of each epoch.
// Epoch returns true if training should stop cleanly at the next epoch boundary.
type Monitor interface {
	Epoch(s Snapshot) bool
}

// Logger is the default monitor which prints a progress line every VerboseEvery epochs.
type Logger struct {
	Every int
}

func (l Logger) Epoch(s Snapshot) bool {
	if l.Every > 0 && s.Epoch%l.Every == 0 {
		fmt.Printf("%3d / %3d  [G : %.5f] [D : %.5f]\n", s.Epoch, s.Epochs, s.GLoss, s.DLoss)
	}
	return false
}

// Trainer drives progressive training over the image pyramid, one state per scale entered
// in ascending resolution order. The loss strategy and gradient penalty are resolved when
// the trainer is created so bad configuration fails before any training step runs.
type Trainer struct {
	Conf     *Config
	Levels   []img.Level
	G        *Generator
	D        *Discriminator
	Strategy Strategy
	Penalty  *Penalty
	History  *stats.History
	rng      *rand.Rand
}

// NewTrainer validates the configuration and creates the scale 0 models.
func NewTrainer(conf *Config, levels []img.Level, rng *rand.Rand) (*Trainer, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	strategy, err := StrategyByName(lossName(conf))
	if err != nil {
		return nil, err
	}
	penalty, err := NewPenalty(conf.GpType)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		Conf:     conf,
		Levels:   levels,
		G:        NewGenerator(levels, conf, rng),
		D:        NewDiscriminator(conf, rng),
		Strategy: strategy,
		Penalty:  penalty,
		History:  stats.NewHistory("G", "D"),
		rng:      rng,
	}, nil
}

// When no loss is configured it follows the penalty type: wgan with the one
// centered penalty, minimax with the zero centered one.
func lossName(conf *Config) string {
	if conf.Loss != "" {
		return conf.Loss
	}
	if conf.GpType == "zero" {
		return "minimax"
	}
	return "wgan"
}

// Run trains each scale in turn. Scale transitions call Progress on both models exactly
// once between consecutive scales and release the per scale session first.
func (t *Trainer) Run(mon Monitor) error {
	if mon == nil {
		mon = Logger{Every: t.Conf.VerboseEvery}
	}
	scales := len(t.Levels)
	start := time.Now()
	epoch0 := 0
	for scale := 0; scale < scales; scale++ {
		fmt.Printf("Scale %2d / %2d  %dx%d\n", scale+1, scales, t.Levels[scale].Width, t.Levels[scale].Height)
		stop, err := t.trainScale(scale, epoch0, start, mon)
		if err != nil {
			return err
		}
		epoch0 += t.epochsAt(scale)
		if stop {
			return nil
		}
	}
	if t.Conf.EvalSize > 0 {
		return t.evaluate()
	}
	return nil
}

func (t *Trainer) epochsAt(scale int) int {
	return t.Conf.Epochs + scale*t.Conf.Increase
}

func (t *Trainer) trainScale(scale, epoch0 int, start time.Time, mon Monitor) (bool, error) {
	sess, err := newSession(t.G, t.D, t.Levels[scale], scale, t.Conf, t.Strategy, t.Penalty)
	if err != nil {
		return false, err
	}
	defer sess.Close()
	epochs := t.epochsAt(scale)
	var dLoss, gLoss float64
	stop := false
	for epoch := 1; epoch <= epochs && !stop; epoch++ {
		for j := 0; j < t.Conf.DSteps; j++ {
			if dLoss, err = sess.DStep(t.rng); err != nil {
				return false, err
			}
		}
		for j := 0; j < t.Conf.GSteps; j++ {
			if gLoss, err = sess.GStep(); err != nil {
				return false, err
			}
		}
		t.History.Add("G", epoch0+epoch, gLoss)
		t.History.Add("D", epoch0+epoch, dLoss)
		if epoch%t.Conf.VerboseEvery == 0 && !finite(dLoss, gLoss) {
			// not auto recovered: the operator is expected to restart the run
			fmt.Printf("warning: non finite loss at scale %d epoch %d [G : %v] [D : %v]\n", scale, epoch, gLoss, dLoss)
		}
		if epoch%t.Conf.SaveEvery == 0 {
			if err := t.saveSample(scale, epoch); err != nil {
				return false, err
			}
		}
		stop = mon.Epoch(Snapshot{
			Scale: scale, Scales: len(t.Levels), Epoch: epoch, Epochs: epochs,
			DLoss: dLoss, GLoss: gLoss, Elapsed: time.Since(start),
		})
	}
	// a requested stop leaves the scale incomplete so the models must not progress
	if !stop && scale+1 < len(t.Levels) {
		recFake, err := t.G.Synthesize(scale, true)
		if err != nil {
			return false, err
		}
		t.G.Progress(recFake, t.Levels[scale].Tensor)
		t.D.Progress()
	}
	return stop, nil
}

// saveSample persists one fake image named by scale and epoch.
func (t *Trainer) saveSample(scale, epoch int) error {
	fake, err := t.G.Synthesize(scale, false)
	if err != nil {
		return err
	}
	return SaveImage(path.Join(t.Conf.OutDir, fmt.Sprintf("fake_%d_%d.png", scale, epoch)), fake)
}

// evaluate reruns the trained chain at a held out size schedule and saves the result.
func (t *Trainer) evaluate() error {
	sizes, err := img.Schedule(t.Conf.EvalSize, t.Conf.MinSize, t.Conf.ScaleFactor)
	if err != nil {
		return err
	}
	// match the number of stages: the largest entries win since capacity is fixed by now
	for len(sizes) > t.G.Scales() {
		sizes = sizes[1:]
	}
	for len(sizes) < t.G.Scales() {
		sizes = append([]int{sizes[0]}, sizes...)
	}
	aspect := float64(t.Levels[0].Width) / float64(t.Levels[0].Height)
	dims := make([]Dim, len(sizes))
	for i, size := range sizes {
		dims[i] = evalDim(size, aspect)
	}
	out, err := t.G.Evaluate(dims)
	if err != nil {
		return errors.Wrap(err, "evaluate")
	}
	last := dims[len(dims)-1]
	return SaveImage(path.Join(t.Conf.OutDir, fmt.Sprintf("eval_%dx%d.png", last.H, last.W)), out)
}

func evalDim(size int, aspect float64) Dim {
	if aspect >= 1 {
		return Dim{H: size, W: int(float64(size)*aspect + 0.5)}
	}
	return Dim{H: int(float64(size)/aspect + 0.5), W: size}
}

// SaveImage writes the first sample of an image batch tensor as a png file.
func SaveImage(filePath string, batch *tensor.Dense) error {
	images, err := img.FromTensor(batch)
	if err != nil {
		return err
	}
	return img.SavePNG(filePath, images[0])
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
