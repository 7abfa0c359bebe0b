package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jnb666/mirage/gan"
	"github.com/jnb666/mirage/img"
	"github.com/jnb666/mirage/web"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: singan [opts] <image>")
		os.Exit(1)
	}
	conf := gan.DefaultConfig()
	if file := os.Args[len(os.Args)-1]; strings.HasSuffix(file, ".json") {
		var err error
		conf, err = gan.LoadConfig(file)
		gan.CheckErr(err)
	} else {
		conf.ImagePath = file
	}

	// override config settings from command line
	flag.IntVar(&conf.MaxSize, "max-size", conf.MaxSize, "maximum image size")
	flag.IntVar(&conf.MinSize, "min-size", conf.MinSize, "minimum image size")
	flag.Float64Var(&conf.ScaleFactor, "scale-factor", conf.ScaleFactor, "pyramid scale factor")
	flag.IntVar(&conf.Channels, "channels", conf.Channels, "hidden channels per conv layer")
	flag.IntVar(&conf.Layers, "layers", conf.Layers, "conv layers per stage")
	flag.Float64Var(&conf.NoiseAmp, "noise-amp", conf.NoiseAmp, "base noise amplitude")
	flag.IntVar(&conf.Epochs, "epochs", conf.Epochs, "epochs at the first scale")
	flag.IntVar(&conf.Increase, "increase", conf.Increase, "extra epochs per scale")
	flag.IntVar(&conf.GSteps, "g-steps", conf.GSteps, "generator steps per epoch")
	flag.IntVar(&conf.DSteps, "d-steps", conf.DSteps, "discriminator steps per epoch")
	flag.Float64Var(&conf.Lr, "lr", conf.Lr, "learning rate")
	flag.Float64Var(&conf.Beta1, "beta1", conf.Beta1, "adam beta1")
	flag.Float64Var(&conf.Beta2, "beta2", conf.Beta2, "adam beta2")
	flag.StringVar(&conf.Loss, "loss", conf.Loss, "loss strategy: minimax lsgan wgan hinge")
	flag.StringVar(&conf.GpType, "gp-type", conf.GpType, "gradient penalty center: one or zero")
	flag.Float64Var(&conf.GpLambda, "gp-lambda", conf.GpLambda, "gradient penalty weight")
	flag.Float64Var(&conf.RecAlpha, "rec-alpha", conf.RecAlpha, "reconstruction loss weight")
	flag.IntVar(&conf.EvalSize, "eval-size", conf.EvalSize, "final evaluation size, 0 to skip")
	flag.IntVar(&conf.VerboseEvery, "verbose-interval", conf.VerboseEvery, "epochs between progress lines")
	flag.IntVar(&conf.SaveEvery, "save-interval", conf.SaveEvery, "epochs between saved samples")
	flag.StringVar(&conf.OutDir, "out", conf.OutDir, "output directory")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed, 0 for clock")
	flag.BoolVar(&conf.UseGPU, "gpu", conf.UseGPU, "use Cuda GPU acceleration")
	httpAddr := flag.String("http", "", "serve the dashboard at this address, e.g. :8080")
	auth := flag.String("auth", "", "dashboard basic auth in user:pass format")
	flag.Parse()

	rng := gan.SetSeed(conf.RandSeed)
	src, err := img.Load(conf.ImagePath)
	gan.CheckErr(err)
	levels, err := img.BuildPyramid(src, conf.MaxSize, conf.MinSize, conf.ScaleFactor)
	gan.CheckErr(err)
	fmt.Println(conf)
	fmt.Printf("pyramid: %d scales from %dx%d to %dx%d\n", len(levels),
		levels[0].Width, levels[0].Height, levels[len(levels)-1].Width, levels[len(levels)-1].Height)
	gan.CheckErr(os.MkdirAll(conf.OutDir, 0755))
	gan.CheckErr(conf.Save(conf.OutDir, "config.json"))

	trainer, err := gan.NewTrainer(conf, levels, rng)
	gan.CheckErr(err)
	var mon gan.Monitor = gan.Logger{Every: conf.VerboseEvery}
	if *httpAddr != "" {
		srv, err := web.NewServer(conf, trainer.History, conf.OutDir)
		gan.CheckErr(err)
		go func() {
			gan.CheckErr(srv.ListenAndServe(*httpAddr, *auth))
		}()
		mon = srv
	}
	gan.CheckErr(trainer.Run(mon))
}
