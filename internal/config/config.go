package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/labeler"
)

// Config holds the application configuration
type Config struct {
	Organizer OrganizerConfig `json:"organizer"`
	Crops     CropsConfig     `json:"crops"`
	Video     VideoConfig     `json:"video"`
	Training  TrainingConfig  `json:"training"`
	Models    ModelsConfig    `json:"models"`
	Balance   BalanceConfig   `json:"balance"`
	Vision    VisionConfig    `json:"vision"`
	Output    OutputConfig    `json:"output"`
}

// OrganizerConfig holds configuration for the detector dataset split
type OrganizerConfig struct {
	SourceDir  string   `json:"source_dir"`
	TrainRatio float64  `json:"train_ratio"`
	Seed       *int64   `json:"seed,omitempty"`
	Extensions []string `json:"extensions"`
	Workers    int      `json:"workers"`
}

// CropsConfig holds configuration for sample crop generation
type CropsConfig struct {
	Count      int    `json:"count"`
	MinSize    int    `json:"min_size"`
	MaxSize    int    `json:"max_size"`
	OutputSize int    `json:"output_size"`
	PerImage   int    `json:"per_image"`
	Seed       *int64 `json:"seed,omitempty"`
	OutputDir  string `json:"output_dir"`
}

// VideoConfig holds configuration for frame extraction
type VideoConfig struct {
	Interval int `json:"interval"`
	Quality  int `json:"quality"`
}

// TrainingConfig holds the training hyperparameters and tools
type TrainingConfig struct {
	Python             string `json:"python"`
	ClassifierScript   string `json:"classifier_script"`
	BaseModel          string `json:"base_model"`
	DetectorEpochs     int    `json:"detector_epochs"`
	DetectorBatch      int    `json:"detector_batch"`
	DetectorPatience   int    `json:"detector_patience"`
	ClassifierEpochs   int    `json:"classifier_epochs"`
	ClassifierBatch    int    `json:"classifier_batch"`
	ClassifierPatience int    `json:"classifier_patience"`
	Concurrency        int    `json:"concurrency"`

	// Command templates replace the built-in yolo and classifier script
	// invocations when set. Each entry is one argv.
	DetectorCommands   [][]string `json:"detector_commands,omitempty"`
	DetectorExport     string     `json:"detector_export,omitempty"`
	ClassifierCommands [][]string `json:"classifier_commands,omitempty"`
}

// ModelsConfig holds configuration for the exported models and config.json
type ModelsConfig struct {
	Dir                 string `json:"dir"`
	DetectorInputSize   int    `json:"detector_input_size"`
	ClassifierInputSize int    `json:"classifier_input_size"`
	Card52              bool   `json:"card52"`
}

// BalanceConfig decides how class imbalance is treated before training
type BalanceConfig struct {
	Policy       string  `json:"policy"`
	MaxImbalance float64 `json:"max_imbalance"`
}

// VisionConfig holds configuration for vision-assisted crop sorting
type VisionConfig struct {
	Backend       string  `json:"backend"`
	URL           string  `json:"url"`
	Model         string  `json:"model"`
	MinConfidence float64 `json:"min_confidence"`
	MaxDim        int     `json:"max_dim"`
	Workers       int     `json:"workers"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Root    string `json:"root"`
	Format  string `json:"format"`
	Quality int    `json:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Organizer: OrganizerConfig{
			SourceDir:  dataset.RawImagesDir,
			TrainRatio: float64(dataset.DefaultSplit),
			Extensions: slices.Clone(utils.DefaultImageExtensions),
		},
		Crops: CropsConfig{
			Count:      10,
			MinSize:    64,
			MaxSize:    128,
			OutputSize: 64,
			PerImage:   3,
			OutputDir:  dataset.SampleCropsDir,
		},
		Video: VideoConfig{
			Interval: 30,
			Quality:  2,
		},
		Training: TrainingConfig{
			Python:             "python3",
			ClassifierScript:   "train_classifier.py",
			BaseModel:          "yolov8n.pt",
			DetectorEpochs:     100,
			DetectorBatch:      16,
			DetectorPatience:   20,
			ClassifierEpochs:   50,
			ClassifierBatch:    32,
			ClassifierPatience: 15,
		},
		Models: ModelsConfig{
			Dir:                 dataset.ModelsDir,
			DetectorInputSize:   416,
			ClassifierInputSize: 64,
		},
		Balance: BalanceConfig{
			Policy:       string(dataset.BalanceWarn),
			MaxImbalance: 3,
		},
		Vision: VisionConfig{
			Backend:       labeler.BackendOllama,
			Model:         labeler.DefaultModel,
			MinConfidence: labeler.DefaultMinConfidence,
			MaxDim:        labeler.DefaultMaxDim,
			Workers:       1,
		},
		Output: OutputConfig{
			Root:    ".",
			Format:  "jpg",
			Quality: 90,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// Load reads filename, or the file at GetConfigPath when filename is empty.
// A missing default file is not an error.
func Load(filename string) (*Config, error) {
	if filename != "" {
		return LoadFromFile(filename)
	}
	if _, err := os.Stat(GetConfigPath()); err != nil {
		return Default(), nil
	}
	return LoadFromFile(GetConfigPath())
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := dataset.SplitRatio(c.Organizer.TrainRatio).Validate(); err != nil {
		return errors.Wrap(err, "organizer.train_ratio")
	}

	if c.Crops.Count < 0 {
		return errors.New("crops.count cannot be negative")
	}

	if c.Crops.MinSize < 1 || c.Crops.MaxSize < c.Crops.MinSize {
		return errors.New("crops.min_size must be positive and no larger than crops.max_size")
	}

	if c.Crops.OutputSize < 1 || c.Crops.PerImage < 1 {
		return errors.New("crops.output_size and crops.per_image must be positive")
	}

	if c.Video.Interval < 1 {
		return errors.New("video.interval must be positive")
	}

	if c.Video.Quality < 2 || c.Video.Quality > 31 {
		return errors.New("video.quality must be between 2 and 31")
	}

	if c.Models.DetectorInputSize < 1 || c.Models.ClassifierInputSize < 1 {
		return errors.New("models input sizes must be positive")
	}

	if _, err := dataset.ParseBalancePolicy(c.Balance.Policy); err != nil {
		return errors.Wrap(err, "balance.policy")
	}

	if c.Balance.MaxImbalance < 0 {
		return errors.New("balance.max_imbalance cannot be negative")
	}

	if _, err := labeler.NewClient(c.Vision.Backend, c.Vision.URL); err != nil {
		return errors.Wrap(err, "vision")
	}

	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		return errors.New("vision.min_confidence must be between 0 and 1")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return errors.New("output.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return errors.Errorf("output.format %q is not one of jpg, png, webp", c.Output.Format)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./cardprep.json"
	}
	return filepath.Join(home, ".config", "cardprep", "config.json")
}

// EnvPrefix starts every environment override.
const EnvPrefix = "CARDPREP_"

// LoadEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. With no
// files, a .env in the working directory is loaded if present.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	return errors.Wrap(godotenv.Load(files...), "loading env file")
}

type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"ROOT", func(c *Config, v string) error { c.Output.Root = v; return nil }},
	{"SOURCE_DIR", func(c *Config, v string) error { c.Organizer.SourceDir = v; return nil }},
	{"SEED", func(c *Config, v string) error {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Organizer.Seed = &seed
		c.Crops.Seed = &seed
		return nil
	}},
	{"WORKERS", func(c *Config, v string) error { return setInt(&c.Organizer.Workers, v) }},
	{"PYTHON", func(c *Config, v string) error { c.Training.Python = v; return nil }},
	{"MODELS_DIR", func(c *Config, v string) error { c.Models.Dir = v; return nil }},
	{"BALANCE_POLICY", func(c *Config, v string) error { c.Balance.Policy = v; return nil }},
	{"VISION_BACKEND", func(c *Config, v string) error { c.Vision.Backend = v; return nil }},
	{"VISION_URL", func(c *Config, v string) error { c.Vision.URL = v; return nil }},
	{"VISION_MODEL", func(c *Config, v string) error { c.Vision.Model = v; return nil }},
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// ApplyEnv overrides fields from CARDPREP_* environment variables, for example
// CARDPREP_SEED or CARDPREP_VISION_URL.
func (c *Config) ApplyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return errors.Wrapf(err, "invalid %s%s", EnvPrefix, o.name)
		}
	}
	return nil
}

// Path resolves rel against the output root.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Output.Root, rel)
}
