// Package solsolve prepares training data for the playing card recognition
// models of a solitaire solver and drives their training.
//
// The Toolkit wires the configuration to the individual steps:
//
//	cfg := config.Default()
//	cfg.Output.Root = "training_data"
//	tk, err := solsolve.New(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := tk.Scaffold(); err != nil {
//		log.Fatal(err)
//	}
//	res, err := tk.Organize(ctx)
//
// Every step is safe to repeat; existing directories are reused and files are
// replaced atomically.
//
// The pieces live in their own packages:
//
//   - dataset: layouts, partitioning, asset copies, data.yaml, verification
//   - cropper: random square crops for the classifier folders
//   - video: frame extraction from recordings
//   - pipeline: the training stage graph and its executor
//   - modelconfig: the config.json read by the mobile runtime
//   - labeler: vision model assisted sorting of crops
package solsolve

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/MuscularCrab/SolSolve/internal/config"
	"github.com/MuscularCrab/SolSolve/pkg/cropper"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/labeler"
	"github.com/MuscularCrab/SolSolve/pkg/modelconfig"
	"github.com/MuscularCrab/SolSolve/pkg/pipeline"
	"github.com/MuscularCrab/SolSolve/pkg/processing"
	"github.com/MuscularCrab/SolSolve/pkg/video"
)

// Version of the toolkit
const Version = "0.3.0"

// Toolkit runs the data preparation and training steps against one workspace.
type Toolkit struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	processor *processing.Processor
}

// New validates cfg and returns a Toolkit. A nil logger discards logs.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Toolkit, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := processing.NewProcessor()
	p.Quality = cfg.Output.Quality
	return &Toolkit{cfg: cfg, logger: logger, processor: p}, nil
}

// Config returns the configuration in use.
func (tk *Toolkit) Config() *config.Config {
	return tk.cfg
}

// Root is the workspace directory every relative path is resolved against.
func (tk *Toolkit) Root() string {
	return tk.cfg.Output.Root
}

// Scaffold creates the standard directory tree.
func (tk *Toolkit) Scaffold() (map[string]dataset.DatasetLayout, error) {
	layouts, err := dataset.Scaffold(tk.Root(), dataset.StandardTree())
	if err != nil {
		return nil, err
	}
	tk.logger.Infow("scaffolded training data tree", "root", tk.Root(), "subtrees", len(layouts))
	return layouts, nil
}

// ExtractFrames pulls frames from a recording into the raw images directory.
func (tk *Toolkit) ExtractFrames(ctx context.Context, videoPath string) (video.Result, error) {
	return video.ExtractFrames(ctx, videoPath, tk.cfg.Path(tk.cfg.Organizer.SourceDir), video.Options{
		Interval: tk.cfg.Video.Interval,
		Quality:  tk.cfg.Video.Quality,
		Logger:   tk.logger,
	})
}

// Organize splits the raw images into the detector layout.
func (tk *Toolkit) Organize(ctx context.Context) (dataset.OrganizeResult, error) {
	return dataset.Organize(ctx, dataset.OrganizeOptions{
		Source:     tk.cfg.Path(tk.cfg.Organizer.SourceDir),
		Root:       tk.cfg.Path(dataset.DetectionDir),
		Ratio:      dataset.SplitRatio(tk.cfg.Organizer.TrainRatio),
		Seed:       tk.cfg.Organizer.Seed,
		Extensions: tk.cfg.Organizer.Extensions,
		Workers:    tk.cfg.Organizer.Workers,
		Logger:     tk.logger,
	})
}

// SampleCrops writes random crops of the raw images for manual sorting into
// the classifier folders.
func (tk *Toolkit) SampleCrops(ctx context.Context) (cropper.WriteReport, error) {
	assets, err := dataset.Discover(tk.cfg.Path(tk.cfg.Organizer.SourceDir), tk.cfg.Organizer.Extensions)
	if err != nil {
		return cropper.WriteReport{}, err
	}
	sampler, err := cropper.NewWithConfig(cropper.Config{
		Count:         tk.cfg.Crops.Count,
		MinSize:       tk.cfg.Crops.MinSize,
		MaxSize:       tk.cfg.Crops.MaxSize,
		OutputSize:    tk.cfg.Crops.OutputSize,
		CropsPerImage: tk.cfg.Crops.PerImage,
		Seed:          tk.cfg.Crops.Seed,
	})
	if err != nil {
		return cropper.WriteReport{}, err
	}
	sampler.SetProcessor(tk.processor)
	return cropper.WriteCrops(ctx, sampler.Crops(assets), tk.cfg.Path(tk.cfg.Crops.OutputDir),
		tk.cfg.Output.Format, tk.cfg.Output.Quality, tk.logger)
}

// ModelConfig is the runtime configuration matching the configured models.
func (tk *Toolkit) ModelConfig() *modelconfig.Config {
	cfg := modelconfig.Default().SetInputSizes(tk.cfg.Models.DetectorInputSize, tk.cfg.Models.ClassifierInputSize)
	if tk.cfg.Models.Card52 {
		cfg.WithCard52()
	}
	return cfg
}

// EmitConfig writes config.json into the models directory.
func (tk *Toolkit) EmitConfig() (string, error) {
	path, err := tk.ModelConfig().Save(tk.cfg.Path(tk.cfg.Models.Dir))
	if err != nil {
		return "", err
	}
	tk.logger.Infow("wrote model config", "path", path)
	return path, nil
}

// WriteGuide writes the labelling guide into the workspace root.
func (tk *Toolkit) WriteGuide() (string, error) {
	if err := os.MkdirAll(tk.Root(), 0o755); err != nil {
		return "", &dataset.DirectoryCreationError{Path: tk.Root(), Err: err}
	}
	return dataset.WriteGuide(tk.Root(), dataset.DefaultGuideData(tk.cfg.Models.ClassifierInputSize))
}

// classifierSets maps classifier names to their folder and label set.
var classifierSets = map[string]struct {
	dir    string
	labels dataset.ClassLabelSet
}{
	pipeline.StageRank:   {dataset.RankDir, dataset.Ranks},
	pipeline.StageSuit:   {dataset.SuitDir, dataset.Suits},
	pipeline.StageCard52: {dataset.Card52Dir, dataset.Card52},
}

// ClassifierNames lists the classifiers Stats, Resize and SortCrops accept.
func ClassifierNames() []string {
	return []string{pipeline.StageRank, pipeline.StageSuit, pipeline.StageCard52}
}

func (tk *Toolkit) classifier(name string) (string, dataset.ClassLabelSet, error) {
	set, ok := classifierSets[strings.ToLower(name)]
	if !ok {
		return "", nil, errors.Errorf("unknown classifier %q (use %s)", name, strings.Join(ClassifierNames(), ", "))
	}
	return tk.cfg.Path(set.dir), set.labels, nil
}

// Stats counts the images per class of a classifier folder.
func (tk *Toolkit) Stats(name string) (dataset.Distribution, error) {
	dir, labels, err := tk.classifier(name)
	if err != nil {
		return dataset.Distribution{}, err
	}
	return dataset.CountClasses(dir, labels, tk.cfg.Organizer.Extensions)
}

// CheckBalance applies the configured balance policy to a classifier folder.
func (tk *Toolkit) CheckBalance(name string) (dataset.Distribution, []string, error) {
	dist, err := tk.Stats(name)
	if err != nil {
		return dist, nil, err
	}
	policy, err := dataset.ParseBalancePolicy(tk.cfg.Balance.Policy)
	if err != nil {
		return dist, nil, err
	}
	warnings, err := dataset.CheckBalance(dist, policy, tk.cfg.Balance.MaxImbalance)
	return dist, warnings, err
}

// Verify checks the detector layout and its label files.
func (tk *Toolkit) Verify() (dataset.VerifyReport, error) {
	return dataset.VerifyDetection(tk.cfg.Path(dataset.DetectionDir), dataset.DetectorClasses, tk.cfg.Organizer.Extensions)
}

// WriteOverlays saves a preview of every validly labeled image in report
// under dir/<split>/, with the label boxes drawn in. Images that fail are
// skipped and returned together in the error.
func (tk *Toolkit) WriteOverlays(ctx context.Context, report dataset.VerifyReport, dir string) (int, error) {
	var (
		written int
		errs    error
	)
	for split, check := range map[string]dataset.SplitCheck{"train": report.Train, "val": report.Val} {
		for _, img := range check.Valid {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			dst := filepath.Join(dir, split, filepath.Base(img.Path))
			if err := tk.processor.WriteOverlay(img.Path, dst, img.Objects); err != nil {
				tk.logger.Warnw("failed to write overlay", "image", img.Path, "error", err)
				errs = multierr.Append(errs, errors.Wrap(err, img.Path))
				continue
			}
			written++
		}
	}
	tk.logger.Infow("wrote label overlays", "dir", dir, "count", written)
	return written, errs
}

// Resize normalizes a classifier folder to the classifier input size.
func (tk *Toolkit) Resize(ctx context.Context, name string) (processing.ResizeReport, error) {
	dir, _, err := tk.classifier(name)
	if err != nil {
		return processing.ResizeReport{}, err
	}
	return tk.processor.NormalizeDir(ctx, dir, processing.ResizeOptions{
		Size:       tk.cfg.Models.ClassifierInputSize,
		Quality:    tk.cfg.Output.Quality,
		Workers:    tk.cfg.Organizer.Workers,
		Extensions: tk.cfg.Organizer.Extensions,
		Logger:     tk.logger,
	})
}

// SortCrops asks the configured vision model to sort the sample crops into the
// folders of a classifier. An empty source means the sample crops directory.
func (tk *Toolkit) SortCrops(ctx context.Context, name, source string) (labeler.Report, error) {
	dir, labels, err := tk.classifier(name)
	if err != nil {
		return labeler.Report{}, err
	}
	if source == "" {
		source = tk.cfg.Path(tk.cfg.Crops.OutputDir)
	}
	assets, err := dataset.Discover(source, tk.cfg.Organizer.Extensions)
	if err != nil {
		return labeler.Report{}, err
	}
	vc, err := labeler.NewClient(tk.cfg.Vision.Backend, tk.cfg.Vision.URL)
	if err != nil {
		return labeler.Report{}, err
	}
	l, err := labeler.New(vc, labels, labeler.Options{
		Model:         tk.cfg.Vision.Model,
		MinConfidence: tk.cfg.Vision.MinConfidence,
		MaxDim:        tk.cfg.Vision.MaxDim,
		Workers:       tk.cfg.Vision.Workers,
		Logger:        tk.logger,
	})
	if err != nil {
		return labeler.Report{}, err
	}
	return l.Sort(ctx, assets, dir)
}

// TrainingOptions converts the configuration into pipeline options.
func (tk *Toolkit) TrainingOptions(only []string) (pipeline.TrainingOptions, error) {
	policy, err := dataset.ParseBalancePolicy(tk.cfg.Balance.Policy)
	if err != nil {
		return pipeline.TrainingOptions{}, err
	}
	opts := pipeline.DefaultTrainingOptions(tk.Root())
	opts.ModelsDir = tk.cfg.Path(tk.cfg.Models.Dir)
	opts.Python = tk.cfg.Training.Python
	opts.ClassifierScript = tk.cfg.Training.ClassifierScript
	opts.BaseModel = tk.cfg.Training.BaseModel
	opts.Detector.ImageSize = tk.cfg.Models.DetectorInputSize
	opts.Detector.Epochs = tk.cfg.Training.DetectorEpochs
	opts.Detector.Batch = tk.cfg.Training.DetectorBatch
	opts.Detector.Patience = tk.cfg.Training.DetectorPatience
	opts.Classifier.ImageSize = tk.cfg.Models.ClassifierInputSize
	opts.Classifier.Epochs = tk.cfg.Training.ClassifierEpochs
	opts.Classifier.Batch = tk.cfg.Training.ClassifierBatch
	opts.Classifier.Patience = tk.cfg.Training.ClassifierPatience
	if cmds := tk.cfg.Training.DetectorCommands; len(cmds) > 0 {
		opts.Detector.Commands = cmds
	}
	if export := tk.cfg.Training.DetectorExport; export != "" {
		opts.Detector.Export = export
	}
	if cmds := tk.cfg.Training.ClassifierCommands; len(cmds) > 0 {
		opts.Classifier.Commands = cmds
	}
	opts.Card52 = tk.cfg.Models.Card52
	opts.Only = only
	opts.BalancePolicy = policy
	opts.MaxImbalance = tk.cfg.Balance.MaxImbalance
	opts.Extensions = tk.cfg.Organizer.Extensions
	opts.Logger = tk.logger
	return opts, nil
}

// TrainingGraph builds the stage graph for the selected stages.
func (tk *Toolkit) TrainingGraph(only []string) (*pipeline.Graph, error) {
	opts, err := tk.TrainingOptions(only)
	if err != nil {
		return nil, err
	}
	stages, err := pipeline.TrainingStages(opts)
	if err != nil {
		return nil, err
	}
	return pipeline.NewGraph(stages)
}

// Train runs the training pipeline. A nil runner executes the real commands
// with their output discarded unless they fail. The data root must already
// hold the organized detection, rank and suit directories.
func (tk *Toolkit) Train(ctx context.Context, only []string, runner pipeline.Runner, observer pipeline.Observer) (*pipeline.Result, error) {
	if err := dataset.RequireDirs(tk.Root(), dataset.TrainingInputs); err != nil {
		return nil, err
	}
	g, err := tk.TrainingGraph(only)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = &pipeline.ExecRunner{Logger: tk.logger}
	}
	exec, err := pipeline.NewExecutor(g, runner, tk.logger)
	if err != nil {
		return nil, err
	}
	exec.Concurrency = tk.cfg.Training.Concurrency
	exec.Observer = observer
	return exec.Run(ctx)
}

// CheckDependencies reports every missing training dependency.
func (tk *Toolkit) CheckDependencies(ctx context.Context) error {
	return pipeline.CheckDependencies(ctx, tk.cfg.Training.Python, pipeline.TrainingDependencies())
}

// CheckAllDependencies also covers the tools used outside training, such as
// ffmpeg for frame extraction.
func (tk *Toolkit) CheckAllDependencies(ctx context.Context) error {
	return pipeline.CheckDependencies(ctx, tk.cfg.Training.Python, pipeline.DefaultDependencies())
}

// ModelsSummary lists the model files produced so far.
func (tk *Toolkit) ModelsSummary() ([]pipeline.ModelFile, error) {
	return pipeline.SummarizeModels(tk.cfg.Path(tk.cfg.Models.Dir))
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
