// Package config reads the YAML configuration of training and prediction sessions.
//
// Example:
//
//	default:
//	  generator: rdn
//	  training_set: div2k-x2
//	  test_set: sample
//	session:
//	  prediction:
//	    patch_size: 64
//	generators:
//	  rdn: {C: 3, D: 10, G: 64, G0: 64, x: 2}
//	weights_paths:
//	  generator: weights/rdn-C3-D10-G64-G064-x2-weights.json
//	test_sets:
//	  sample: data/input/sample
//	dirs:
//	  predictions: data/output
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Default selects the components of a default session.
type Default struct {
	FeatureExtractor bool   `yaml:"feat_ext"`
	Discriminator    bool   `yaml:"discriminator"`
	Generator        string `yaml:"generator"`
	TrainingSet      string `yaml:"training_set"`
	TestSet          string `yaml:"test_set"`
}

// Training holds the training session settings.
type Training struct {
	PatchSize          int     `yaml:"patch_size"`
	Epochs             int     `yaml:"epochs"`
	StepsPerEpoch      int     `yaml:"steps_per_epoch"`
	BatchSize          int     `yaml:"batch_size"`
	NValidationSamples int     `yaml:"n_validation_samples"`
	LRDecayFactor      float64 `yaml:"lr_decay_factor"`
	LRDecayFrequency   int     `yaml:"lr_decay_frequency"`
}

// Prediction holds the prediction session settings.
type Prediction struct {
	PatchSize int `yaml:"patch_size"`
}

// Session holds the settings of each kind of session.
type Session struct {
	Training   Training   `yaml:"training"`
	Prediction Prediction `yaml:"prediction"`
}

// TrainingSet locates the images of a training set.
type TrainingSet struct {
	LRTrainDir string `yaml:"lr_train_dir"`
	HRTrainDir string `yaml:"hr_train_dir"`
	LRValidDir string `yaml:"lr_valid_dir"`
	HRValidDir string `yaml:"hr_valid_dir"`
	DataName   string `yaml:"data_name"`
}

// Dirs are the output directories.
type Dirs struct {
	Logs        string `yaml:"logs"`
	Weights     string `yaml:"weights"`
	Predictions string `yaml:"predictions"`
}

// Config is the whole configuration file.
type Config struct {
	Default      Default                         `yaml:"default"`
	Session      Session                         `yaml:"session"`
	Generators   map[string]map[string]yaml.Node `yaml:"generators"`
	TrainingSets map[string]TrainingSet          `yaml:"training_sets"`
	TestSets     map[string]string               `yaml:"test_sets"`
	WeightsPaths map[string]string               `yaml:"weights_paths"`
	LossWeights  map[string]float64              `yaml:"loss_weights"`
	Dirs         Dirs                            `yaml:"dirs"`
}

// Load reads the configuration from the specified file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads the configuration from the io.Reader.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	var c Config
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, err
	}
	return &c, nil
}

// architectureKeys must hold integers.
var architectureKeys = map[string]bool{"C": true, "D": true, "G": true, "G0": true, "T": true, "x": true}

// Hyperparameters returns the integer hyperparameters of the named generator.
// Other keys holding non integer values, such as the upscaling tag, are left out.
func (c *Config) Hyperparameters(generator string) (map[string]int, error) {
	g, ok := c.Generators[generator]
	if !ok {
		return nil, fmt.Errorf("no such generator: %q", generator)
	}
	ret := make(map[string]int, len(g))
	for k, n := range g {
		var v int
		if err := n.Decode(&v); err != nil {
			if architectureKeys[k] {
				return nil, fmt.Errorf("generator %s: hyperparameter %s: %w", generator, k, err)
			}
			continue
		}
		ret[k] = v
	}
	return ret, nil
}

// GeneratorString returns a string setting of the named generator, e.g. its upscaling tag.
func (c *Config) GeneratorString(generator, key string) (string, bool) {
	n, ok := c.Generators[generator][key]
	if !ok {
		return "", false
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return "", false
	}
	return s, true
}

// GeneratorInt returns an integer setting of the named generator, e.g. its kernel size.
func (c *Config) GeneratorInt(generator, key string) (int, bool) {
	n, ok := c.Generators[generator][key]
	if !ok {
		return 0, false
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return 0, false
	}
	return v, true
}
