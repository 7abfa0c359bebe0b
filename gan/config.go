// Package gan implements adversarial training pipelines on top of the gorgonia expression
// graph library: a progressively growing single image model and a conditional image model,
// plus the shared loss, gradient penalty and perceptual loss utilities.
package gan

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path"
	"reflect"
	"strings"
	"time"
)

// Config has the settings for a progressive single image training run.
type Config struct {
	ImagePath    string
	MaxSize      int
	MinSize      int
	ScaleFactor  float64
	Channels     int
	Layers       int
	NoiseAmp     float64
	Epochs       int
	Increase     int
	GSteps       int
	DSteps       int
	Lr           float64
	Beta1        float64
	Beta2        float64
	Loss         string
	GpType       string
	GpLambda     float64
	RecAlpha     float64
	EvalSize     int
	VerboseEvery int
	SaveEvery    int
	OutDir       string
	RandSeed     int64
	UseGPU       bool
}

// DefaultConfig returns the standard settings for the progressive trainer.
func DefaultConfig() *Config {
	return &Config{
		ImagePath:    "",
		MaxSize:      220,
		MinSize:      25,
		ScaleFactor:  0.7,
		Channels:     32,
		Layers:       5,
		NoiseAmp:     0.1,
		Epochs:       3000,
		Increase:     0,
		GSteps:       3,
		DSteps:       3,
		Lr:           0.0005,
		Beta1:        0.5,
		Beta2:        0.999,
		Loss:         "",
		GpType:       "one",
		GpLambda:     0.1,
		RecAlpha:     10,
		EvalSize:     0,
		VerboseEvery: 1000,
		SaveEvery:    1000,
		OutDir:       "result",
	}
}

// Save config settings to JSON file.
func (c *Config) Save(dir, name string) error {
	filePath := path.Join(dir, name)
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Load config settings from JSON file.
func LoadConfig(filePath string) (*Config, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c := DefaultConfig()
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("error decoding config %s: %s", filePath, err)
	}
	return c, nil
}

// validate checks settings used as divisors or loop bounds so bad values fail before
// any training step runs.
func (c *Config) validate() error {
	if c.VerboseEvery < 1 || c.SaveEvery < 1 {
		return fmt.Errorf("%w: VerboseEvery and SaveEvery must be >= 1", ErrInvalidConfig)
	}
	if c.DSteps < 1 || c.GSteps < 1 {
		return fmt.Errorf("%w: DSteps and GSteps must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Fields() []string {
	return fieldNames(*c)
}

func (c *Config) Get(key string) interface{} {
	return fieldValue(*c, key)
}

func (c *Config) String() string {
	return configString(*c)
}

func fieldNames(c interface{}) []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func fieldValue(c interface{}, key string) interface{} {
	return reflect.ValueOf(c).FieldByName(key).Interface()
}

func configString(c interface{}) string {
	str := []string{"== Config =="}
	for _, key := range fieldNames(c) {
		str = append(str, fmt.Sprintf("%-14s: %v", key, fieldValue(c, key)))
	}
	return strings.Join(str, "\n")
}

// Set random number seed, or seed from the clock if seed <= 0. Returns a new generator.
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
