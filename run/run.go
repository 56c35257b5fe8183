// Package run wires a configuration file to a training or prediction session.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ikawaha/rdn.go/config"
	"github.com/ikawaha/rdn.go/engine"
	"github.com/ikawaha/rdn.go/rdn"
)

// ErrNoTrainer is returned when a training session is requested without a trainer.
var ErrNoTrainer = errors.New("no trainer available")

// Trainer trains a generator.
type Trainer interface {
	Train(ctx context.Context) error
}

// Predictor predicts with a generator using the weights at the specified path.
type Predictor interface {
	Predict(ctx context.Context, weightsPath string) error
}

// TrainerFactory creates the trainer of a session.
type TrainerFactory func(cfg *config.Config, generator *rdn.RDN) (Trainer, error)

// PredictorFactory creates the predictor of a session.
type PredictorFactory func(cfg *config.Config, generator *rdn.RDN) (Predictor, error)

// Options selects the session to run.
type Options struct {
	ConfigFile string
	Training   bool
	Prediction bool
	// Default uses the components named in the default section of the configuration.
	Default bool
}

// Runner runs sessions.
type Runner struct {
	// NewTrainer creates the trainer. Training fails with ErrNoTrainer when nil.
	NewTrainer TrainerFactory
	// NewPredictor creates the predictor. The directory predictor is used when nil.
	NewPredictor PredictorFactory
	Verbose      bool
	LogOutput    io.Writer
}

func (r Runner) printf(format string, a ...interface{}) {
	if r.Verbose {
		w := r.LogOutput
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, format, a...)
	}
}

// Run loads the configuration, builds the generator and runs exactly one trainer or predictor.
func (r Runner) Run(ctx context.Context, opt Options) error {
	if opt.Training == opt.Prediction {
		return fmt.Errorf("choose either training or prediction")
	}
	if !opt.Default {
		return fmt.Errorf("interactive session setup is not supported, use the default configuration")
	}
	cfg, err := config.Load(opt.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	patchSize := cfg.Session.Prediction.PatchSize
	if opt.Training {
		patchSize = cfg.Session.Training.PatchSize
	}
	generator, err := Generator(cfg, cfg.Default.Generator, patchSize)
	if err != nil {
		return err
	}
	r.printf("generator: %s, weights name: %s\n", cfg.Default.Generator, generator.WeightsName())

	if opt.Training {
		if r.NewTrainer == nil {
			return ErrNoTrainer
		}
		t, err := r.NewTrainer(cfg, generator)
		if err != nil {
			return fmt.Errorf("create trainer: %w", err)
		}
		return t.Train(ctx)
	}

	newPredictor := r.NewPredictor
	if newPredictor == nil {
		newPredictor = func(cfg *config.Config, g *rdn.RDN) (Predictor, error) {
			opts := []engine.Option{engine.Verbose(r.Verbose)}
			if r.LogOutput != nil {
				opts = append(opts, engine.LogOutput(r.LogOutput))
			}
			return NewDirPredictor(cfg, g, opts...)
		}
	}
	p, err := newPredictor(cfg, generator)
	if err != nil {
		return fmt.Errorf("create predictor: %w", err)
	}
	return p.Predict(ctx, cfg.WeightsPaths["generator"])
}

// Generator builds the named generator from its hyperparameters. When the configuration
// has no section for it, the hyperparameters are recovered from the generator weights name.
func Generator(cfg *config.Config, name string, patchSize int) (*rdn.RDN, error) {
	if name != "rdn" {
		return nil, fmt.Errorf("unsupported generator: %q", name)
	}
	var (
		params rdn.Params
		err    error
	)
	if _, ok := cfg.Generators[name]; ok {
		var hp map[string]int
		if hp, err = cfg.Hyperparameters(name); err != nil {
			return nil, err
		}
		params, err = rdn.ParamsFromMap(hp)
	} else {
		params, err = rdn.ParseWeightsName(cfg.WeightsPaths["generator"])
	}
	if err != nil {
		return nil, fmt.Errorf("generator %s: %w", name, err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("generator %s: %w", name, err)
	}

	var opts []rdn.Option
	if tag, ok := cfg.GeneratorString(name, "upscaling"); ok {
		opts = append(opts, rdn.Upscale(tag))
	}
	if k, ok := cfg.GeneratorInt(name, "kernel_size"); ok {
		opts = append(opts, rdn.KernelSize(k))
	}
	if c, ok := cfg.GeneratorInt(name, "c_dim"); ok {
		opts = append(opts, rdn.Channels(c))
	}
	return rdn.Build(params, patchSize, opts...)
}

// DirPredictor super-resolves the images of the default test set.
type DirPredictor struct {
	generator *rdn.RDN
	predictor *engine.Predictor
	inputDir  string
	outputDir string
}

// NewDirPredictor creates a predictor reading test_sets[default.test_set] and writing
// under dirs.predictions.
func NewDirPredictor(cfg *config.Config, generator *rdn.RDN, opts ...engine.Option) (*DirPredictor, error) {
	in, ok := cfg.TestSets[cfg.Default.TestSet]
	if !ok {
		return nil, fmt.Errorf("no such test set: %q", cfg.Default.TestSet)
	}
	p, err := engine.NewPredictor(generator, opts...)
	if err != nil {
		return nil, err
	}
	return &DirPredictor{
		generator: generator,
		predictor: p,
		inputDir:  in,
		outputDir: cfg.Dirs.Predictions,
	}, nil
}

// Predict loads the weights and writes the predictions to a directory named after them.
func (d DirPredictor) Predict(ctx context.Context, weightsPath string) error {
	if weightsPath == "" {
		return fmt.Errorf("no generator weights")
	}
	if err := engine.LoadWeightsFile(weightsPath, d.generator.Model); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(weightsPath), filepath.Ext(weightsPath))
	return d.predictor.PredictDir(ctx, d.inputDir, filepath.Join(d.outputDir, name))
}
