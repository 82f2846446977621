package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/modelconfig"
)

// Stage names of the training pipeline.
const (
	StageDetector = "detector"
	StageRank     = "rank"
	StageSuit     = "suit"
	StageCard52   = "card52"
	StageConfig   = "config"
)

// ModelTraining holds the hyperparameters and command templates of one model.
// Every element of Commands is a text/template rendered with CommandData.
type ModelTraining struct {
	ImageSize int
	Epochs    int
	Batch     int
	Patience  int
	Commands  [][]string
	// Export is a template for the file the commands leave behind. When set it
	// is copied to the stage output; when empty the commands must write the
	// output themselves.
	Export string
}

// CommandData is what command templates can reference.
type CommandData struct {
	Name       string
	Python     string
	Script     string
	BaseModel  string
	Data       string
	DataYAML   string
	WorkDir    string
	Output     string
	Labels     string
	NumClasses int
	ImageSize  int
	Epochs     int
	Batch      int
	Patience   int
}

// Default detector and classifier commands.
var (
	DefaultDetectorCommands = [][]string{
		{"yolo", "detect", "train", "data={{.DataYAML}}", "model={{.BaseModel}}", "imgsz={{.ImageSize}}",
			"epochs={{.Epochs}}", "batch={{.Batch}}", "patience={{.Patience}}",
			"project={{.WorkDir}}", "name={{.Name}}", "exist_ok=True"},
		{"yolo", "export", "model={{.WorkDir}}/{{.Name}}/weights/best.pt", "format=tflite", "imgsz={{.ImageSize}}"},
	}
	DefaultDetectorExport = "{{.WorkDir}}/{{.Name}}/weights/best_saved_model/best_float32.tflite"

	DefaultClassifierCommands = [][]string{
		{"{{.Python}}", "{{.Script}}", "--data", "{{.Data}}", "--labels", "{{.Labels}}",
			"--img-size", "{{.ImageSize}}", "--epochs", "{{.Epochs}}", "--batch", "{{.Batch}}",
			"--patience", "{{.Patience}}", "--output", "{{.Output}}"},
	}
)

// TrainingOptions configures TrainingStages.
type TrainingOptions struct {
	// Root holds detection_data, rank_data, suit_data and card52_data.
	Root      string
	ModelsDir string
	WorkDir   string
	Python    string
	// ClassifierScript is the training script the default classifier command runs.
	ClassifierScript string
	BaseModel        string
	Detector         ModelTraining
	Classifier       ModelTraining
	Card52           bool
	// Only limits the pipeline to the named stages. Empty means every model
	// plus the config stage.
	Only          []string
	BalancePolicy dataset.BalancePolicy
	MaxImbalance  float64
	Extensions    []string
	Logger        *zap.SugaredLogger
}

// DefaultTrainingOptions returns the training settings for a workspace root.
func DefaultTrainingOptions(root string) TrainingOptions {
	return TrainingOptions{
		Root:             root,
		ModelsDir:        filepath.Join(root, dataset.ModelsDir),
		WorkDir:          filepath.Join(root, "runs"),
		Python:           "python3",
		ClassifierScript: "train_classifier.py",
		BaseModel:        "yolov8n.pt",
		Detector: ModelTraining{
			ImageSize: modelconfig.DetectorInputSize,
			Epochs:    100,
			Batch:     16,
			Patience:  20,
			Commands:  DefaultDetectorCommands,
			Export:    DefaultDetectorExport,
		},
		Classifier: ModelTraining{
			ImageSize: modelconfig.ClassifierInputSize,
			Epochs:    50,
			Batch:     32,
			Patience:  15,
			Commands:  DefaultClassifierCommands,
		},
		BalancePolicy: dataset.BalanceWarn,
		MaxImbalance:  3,
	}
}

// TrainingStages builds the stages of the training pipeline. The detector and
// classifiers do not depend on each other; the config stage consumes every
// model file.
func TrainingStages(opts TrainingOptions) ([]Stage, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	want := func(name string) bool {
		if len(opts.Only) == 0 {
			return name != StageCard52 || opts.Card52
		}
		for _, o := range opts.Only {
			if o == name {
				return true
			}
		}
		return false
	}

	var stages []Stage
	if want(StageDetector) {
		s, err := detectorStage(opts)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	classifiers := []struct {
		name, dir, file string
		labels          dataset.ClassLabelSet
	}{
		{StageRank, dataset.RankDir, modelconfig.RankModelFile, dataset.Ranks},
		{StageSuit, dataset.SuitDir, modelconfig.SuitModelFile, dataset.Suits},
		{StageCard52, dataset.Card52Dir, modelconfig.Card52ModelFile, dataset.Card52},
	}
	for _, c := range classifiers {
		if !want(c.name) {
			continue
		}
		s, err := classifierStage(opts, c.name, filepath.Join(opts.Root, c.dir), c.file, c.labels)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}

	if len(opts.Only) == 0 || want(StageConfig) {
		stages = append(stages, configStage(opts))
	}
	return stages, nil
}

func detectorStage(opts TrainingOptions) (Stage, error) {
	root := filepath.Join(opts.Root, dataset.DetectionDir)
	dataYAML := filepath.Join(root, dataset.DataYAMLName)
	output := filepath.Join(opts.ModelsDir, modelconfig.DetectorModelFile)
	data := CommandData{
		Name:       StageDetector,
		Python:     opts.Python,
		BaseModel:  opts.BaseModel,
		Data:       root,
		DataYAML:   dataYAML,
		WorkDir:    opts.WorkDir,
		Output:     output,
		Labels:     strings.Join(dataset.DetectorClasses, ","),
		NumClasses: len(dataset.DetectorClasses),
		ImageSize:  opts.Detector.ImageSize,
		Epochs:     opts.Detector.Epochs,
		Batch:      opts.Detector.Batch,
		Patience:   opts.Detector.Patience,
	}
	commands, export, err := renderModel(opts.Detector, data)
	if err != nil {
		return Stage{}, errors.Wrap(err, StageDetector)
	}
	return Stage{
		Name:     StageDetector,
		Inputs:   []string{dataYAML},
		Outputs:  []string{output},
		Commands: commands,
		Precheck: func(context.Context) error {
			desc, err := dataset.ReadDataYAML(dataYAML)
			if err != nil {
				return err
			}
			report, err := dataset.VerifyDetection(root, desc.Names, opts.Extensions)
			if err != nil {
				return err
			}
			if !report.Ready() {
				return errors.Errorf("detection data not ready: %d unlabeled and %d invalid label files",
					len(report.Train.Unlabeled)+len(report.Val.Unlabeled),
					len(report.Train.Invalid)+len(report.Val.Invalid))
			}
			return nil
		},
		Finish: exportFinish(export, output, opts.ModelsDir),
	}, nil
}

func classifierStage(opts TrainingOptions, name, dir, file string, labels dataset.ClassLabelSet) (Stage, error) {
	output := filepath.Join(opts.ModelsDir, file)
	data := CommandData{
		Name:       name,
		Python:     opts.Python,
		Script:     opts.ClassifierScript,
		BaseModel:  opts.BaseModel,
		Data:       dir,
		WorkDir:    opts.WorkDir,
		Output:     output,
		Labels:     strings.Join(labels, ","),
		NumClasses: len(labels),
		ImageSize:  opts.Classifier.ImageSize,
		Epochs:     opts.Classifier.Epochs,
		Batch:      opts.Classifier.Batch,
		Patience:   opts.Classifier.Patience,
	}
	commands, export, err := renderModel(opts.Classifier, data)
	if err != nil {
		return Stage{}, errors.Wrap(err, name)
	}
	return Stage{
		Name:     name,
		Inputs:   []string{dir},
		Outputs:  []string{output},
		Commands: commands,
		Precheck: func(context.Context) error {
			dist, err := dataset.CountClasses(dir, labels, opts.Extensions)
			if err != nil {
				return err
			}
			warnings, err := dataset.CheckBalance(dist, opts.BalancePolicy, opts.MaxImbalance)
			for _, w := range warnings {
				opts.Logger.Warnw("class distribution", "stage", name, "warning", w)
			}
			if err != nil {
				return err
			}
			return os.MkdirAll(opts.ModelsDir, 0o755)
		},
		Finish: exportFinish(export, output, opts.ModelsDir),
	}, nil
}

func configStage(opts TrainingOptions) Stage {
	cfg := modelconfig.Default().SetInputSizes(opts.Detector.ImageSize, opts.Classifier.ImageSize)
	if opts.Card52 {
		cfg.WithCard52()
	}
	inputs := make([]string, 0, len(cfg.Files()))
	for _, f := range cfg.Files() {
		inputs = append(inputs, filepath.Join(opts.ModelsDir, f))
	}
	return Stage{
		Name:    StageConfig,
		Inputs:  inputs,
		Outputs: []string{filepath.Join(opts.ModelsDir, modelconfig.FileName)},
		Finish: func(context.Context) error {
			_, err := cfg.Save(opts.ModelsDir)
			return err
		},
	}
}

func exportFinish(export, output, modelsDir string) func(context.Context) error {
	if export == "" {
		return nil
	}
	return func(context.Context) error {
		if err := os.MkdirAll(modelsDir, 0o755); err != nil {
			return &dataset.DirectoryCreationError{Path: modelsDir, Err: err}
		}
		return errors.Wrap(dataset.CopyFile(export, output), "collect exported model")
	}
}

func renderModel(m ModelTraining, data CommandData) ([][]string, string, error) {
	commands := make([][]string, 0, len(m.Commands))
	for _, argv := range m.Commands {
		rendered := make([]string, 0, len(argv))
		for _, arg := range argv {
			s, err := renderTemplate(arg, data)
			if err != nil {
				return nil, "", err
			}
			rendered = append(rendered, s)
		}
		commands = append(commands, rendered)
	}
	export, err := renderTemplate(m.Export, data)
	if err != nil {
		return nil, "", err
	}
	return commands, export, nil
}

func renderTemplate(text string, data CommandData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("arg").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", errors.Wrapf(err, "parse template %q", text)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %q", text)
	}
	return buf.String(), nil
}

// ModelFile is a trained model artifact.
type ModelFile struct {
	Name string
	Size int64
}

// HumanSize is the size formatted for display.
func (m ModelFile) HumanSize() string {
	return utils.FormatFileSize(m.Size)
}

// SummarizeModels lists the .tflite files in dir with their sizes.
func SummarizeModels(dir string) ([]ModelFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read models directory")
	}
	var out []ModelFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".tflite") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, ModelFile{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
