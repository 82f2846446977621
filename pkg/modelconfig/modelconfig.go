// Package modelconfig reads and writes config.json, the file the on-device
// inference runtime loads to find its models, labels and thresholds.
package modelconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/MuscularCrab/SolSolve/pkg/dataset"
)

// FileName is the name the runtime looks for next to the models.
const FileName = "config.json"

// Default thresholds and input sizes.
const (
	DetectorInputSize    = 416
	DetectorConfidence   = 0.35
	DetectorNMSIoU       = 0.45
	ClassifierInputSize  = 64
	ClassifierConfidence = 0.6
	DetectorModelFile    = "detector.tflite"
	RankModelFile        = "rank.tflite"
	SuitModelFile        = "suit.tflite"
	Card52ModelFile      = "card52.tflite"
)

// ModelSpec describes one exported model.
type ModelSpec struct {
	File                string   `json:"file"`
	Labels              []string `json:"labels"`
	InputSize           int      `json:"inputSize"`
	ConfidenceThreshold float64  `json:"confidenceThreshold"`
	// NMSIoU is only meaningful for the detector.
	NMSIoU *float64 `json:"nmsIoU,omitempty"`
}

// Validate checks the spec, naming it in errors.
func (m ModelSpec) Validate(name string) error {
	if m.File == "" {
		return errors.Errorf("%s: file is required", name)
	}
	if len(m.Labels) == 0 {
		return errors.Errorf("%s: labels are required", name)
	}
	if err := dataset.ClassLabelSet(m.Labels).Validate(); err != nil {
		return errors.Wrap(err, name)
	}
	if m.InputSize <= 0 {
		return errors.Errorf("%s: inputSize must be positive, got %d", name, m.InputSize)
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		return errors.Errorf("%s: confidenceThreshold must be in [0,1], got %v", name, m.ConfidenceThreshold)
	}
	if m.NMSIoU != nil && (*m.NMSIoU < 0 || *m.NMSIoU > 1) {
		return errors.Errorf("%s: nmsIoU must be in [0,1], got %v", name, *m.NMSIoU)
	}
	return nil
}

// Config is the runtime configuration artifact.
type Config struct {
	Detector ModelSpec  `json:"detector"`
	Rank     ModelSpec  `json:"rank"`
	Suit     ModelSpec  `json:"suit"`
	Card52   *ModelSpec `json:"card52,omitempty"`
}

// Default returns the configuration matching the default training settings.
func Default() *Config {
	return &Config{
		Detector: ModelSpec{
			File:                DetectorModelFile,
			Labels:              dataset.DetectorClasses,
			InputSize:           DetectorInputSize,
			ConfidenceThreshold: DetectorConfidence,
			NMSIoU:              lo.ToPtr(DetectorNMSIoU),
		},
		Rank: classifier(RankModelFile, dataset.Ranks),
		Suit: classifier(SuitModelFile, dataset.Suits),
	}
}

func classifier(file string, labels dataset.ClassLabelSet) ModelSpec {
	return ModelSpec{
		File:                file,
		Labels:              labels,
		InputSize:           ClassifierInputSize,
		ConfidenceThreshold: ClassifierConfidence,
	}
}

// WithCard52 adds the single-shot 52-way classifier entry at the rank
// classifier's input size.
func (c *Config) WithCard52() *Config {
	spec := classifier(Card52ModelFile, dataset.Card52)
	if c.Rank.InputSize > 0 {
		spec.InputSize = c.Rank.InputSize
	}
	c.Card52 = &spec
	return c
}

// SetInputSizes overrides the input sizes, leaving zero values alone.
func (c *Config) SetInputSizes(detector, classifierSize int) *Config {
	if detector > 0 {
		c.Detector.InputSize = detector
	}
	if classifierSize > 0 {
		c.Rank.InputSize = classifierSize
		c.Suit.InputSize = classifierSize
		if c.Card52 != nil {
			c.Card52.InputSize = classifierSize
		}
	}
	return c
}

// Validate checks every model entry.
func (c *Config) Validate() error {
	if err := c.Detector.Validate("detector"); err != nil {
		return err
	}
	if c.Detector.NMSIoU == nil {
		return errors.New("detector: nmsIoU is required")
	}
	if err := c.Rank.Validate("rank"); err != nil {
		return err
	}
	if err := c.Suit.Validate("suit"); err != nil {
		return err
	}
	if c.Card52 != nil {
		return c.Card52.Validate("card52")
	}
	return nil
}

// Files lists the model file names referenced by the configuration.
func (c *Config) Files() []string {
	files := []string{c.Detector.File, c.Rank.File, c.Suit.File}
	if c.Card52 != nil {
		files = append(files, c.Card52.File)
	}
	return files
}

// Save validates the configuration and writes it as indented JSON to
// dir/config.json, replacing any previous file.
func (c *Config) Save(dir string) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &dataset.DirectoryCreationError{Path: dir, Err: err}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal model config")
	}
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write model config")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "failed to write model config")
	}
	return path, nil
}

// Load reads and validates a configuration artifact.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model config")
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &c, nil
}
