package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jnb666/mirage/gan"
	"github.com/jnb666/mirage/img"
	"github.com/jnb666/mirage/web"
)

func loadSet(conf *gan.CConfig) (*img.Set, error) {
	if conf.IndexFile != "" {
		ix, err := img.LoadIndex(conf.IndexFile)
		if err != nil {
			return nil, err
		}
		return img.SetFromIndex(ix, conf.ImageSize), nil
	}
	files, err := img.ScanImages(conf.DataDir)
	if err != nil {
		return nil, err
	}
	if conf.MinYear > 0 {
		files = img.YearFilter(files, conf.MinYear)
	}
	labels, err := img.LoadLabels(conf.Labels)
	if err != nil {
		return nil, err
	}
	return img.NewSet(files, labels, conf.ImageSize), nil
}

func main() {
	conf := gan.DefaultCConfig()
	flag.StringVar(&conf.DataDir, "data", conf.DataDir, "image directory to scan")
	flag.StringVar(&conf.IndexFile, "index", conf.IndexFile, "load corpus from saved index instead of scanning")
	flag.StringVar(&conf.Labels, "labels", conf.Labels, "csv file with path,tag rows")
	flag.IntVar(&conf.MinYear, "min-year", conf.MinYear, "drop images with a year suffix before this")
	flag.IntVar(&conf.ImageSize, "size", conf.ImageSize, "training image size")
	flag.IntVar(&conf.Latent, "latent", conf.Latent, "latent vector size")
	flag.IntVar(&conf.Batch, "batch", conf.Batch, "batch size")
	flag.IntVar(&conf.Epochs, "epochs", conf.Epochs, "training epochs")
	flag.Float64Var(&conf.Lr, "lr", conf.Lr, "learning rate")
	flag.Float64Var(&conf.Beta1, "beta1", conf.Beta1, "adam beta1")
	flag.Float64Var(&conf.Beta2, "beta2", conf.Beta2, "adam beta2")
	flag.StringVar(&conf.Loss, "loss", conf.Loss, "loss strategy, default smoothed targets with mse")
	flag.IntVar(&conf.VerboseEvery, "verbose-interval", conf.VerboseEvery, "batches between progress lines")
	flag.IntVar(&conf.SaveEvery, "save-interval", conf.SaveEvery, "batches between sample sheets")
	flag.StringVar(&conf.OutDir, "out", conf.OutDir, "output directory")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed, 0 for clock")
	flag.BoolVar(&conf.UseGPU, "gpu", conf.UseGPU, "use Cuda GPU acceleration")
	httpAddr := flag.String("http", "", "serve the dashboard at this address, e.g. :8080")
	auth := flag.String("auth", "", "dashboard basic auth in user:pass format")
	flag.Parse()
	if conf.DataDir == "" && conf.IndexFile == "" {
		fmt.Println("usage: cgan -data <dir> -labels <file> [opts]")
		os.Exit(1)
	}

	rng := gan.SetSeed(conf.RandSeed)
	data, err := loadSet(conf)
	gan.CheckErr(err)
	fmt.Println(conf)
	fmt.Printf("data set: %d images  %d classes\n", data.Len(), data.Classes())
	gan.CheckErr(os.MkdirAll(conf.OutDir, 0755))

	trainer, err := gan.NewCTrainer(conf, data, rng)
	gan.CheckErr(err)
	defer trainer.Close()
	var mon gan.Monitor
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
