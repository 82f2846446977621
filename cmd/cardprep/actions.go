package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	solsolve "github.com/MuscularCrab/SolSolve"
	"github.com/MuscularCrab/SolSolve/internal/config"
	"github.com/MuscularCrab/SolSolve/internal/logging"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/labeler"
)

// loadConfig layers the config file, the environment and the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var envFiles []string
	if f := c.String(flagEnvFile); f != "" {
		envFiles = append(envFiles, f)
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if c.IsSet(flagRoot) {
		cfg.Output.Root = c.String(flagRoot)
	}
	if c.IsSet(flagSeed) {
		seed := c.Int64(flagSeed)
		cfg.Organizer.Seed = &seed
		cfg.Crops.Seed = &seed
	}
	return cfg, nil
}

// newToolkit builds the toolkit after apply has adjusted the configuration
// for command flags.
func newToolkit(c *cli.Context, apply func(cfg *config.Config)) (*solsolve.Toolkit, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if apply != nil {
		apply(cfg)
	}
	logger, err := logging.NewLogger("cardprep", c.Bool(flagDebug))
	if err != nil {
		return nil, nil, err
	}
	tk, err := solsolve.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return tk, logger, nil
}

// ScaffoldAction creates the standard directory tree.
func ScaffoldAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	layouts, err := tk.Scaffold()
	if err != nil {
		return err
	}
	for _, tree := range dataset.StandardTree() {
		pterm.Success.Printfln("%s (%d directories)", layouts[tree.Name].Root, len(layouts[tree.Name].Paths))
	}
	return nil
}

// ExtractFramesAction pulls frames out of a recording.
func ExtractFramesAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one video file")
	}
	tk, _, err := newToolkit(c, func(cfg *config.Config) {
		if c.IsSet(flagInterval) {
			cfg.Video.Interval = c.Int(flagInterval)
		}
	})
	if err != nil {
		return err
	}
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(false).Start("extracting frames from " + c.Args().First())
	res, err := tk.ExtractFrames(c.Context, c.Args().First())
	if err != nil {
		stopSpinner(spinner, err)
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("extracted %d frames into %s", len(res.Frames), res.Dir))
	}
	return nil
}

// OrganizeAction builds the detector dataset.
func OrganizeAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, func(cfg *config.Config) {
		if c.IsSet(flagSource) {
			cfg.Organizer.SourceDir = c.String(flagSource)
		}
		if c.IsSet(flagRatio) {
			cfg.Organizer.TrainRatio = c.Float64(flagRatio)
		}
	})
	if err != nil {
		return err
	}
	res, err := tk.Organize(c.Context)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("train: %d images, val: %d images", res.Train.Copied, res.Val.Copied)
	if !res.Split.Reproducible {
		pterm.Info.Printfln("split seed %d (pass --%s to reproduce)", res.Split.Seed, flagSeed)
	}
	pterm.Info.Printfln("wrote %s", res.DataYAML)
	if n := res.Failed(); n > 0 {
		pterm.Warning.Printfln("%d images could not be copied", n)
		return errors.Wrap(multierr.Append(res.Train.Err(), res.Val.Err()), "organize finished with failures")
	}
	return nil
}

// SampleCropsAction writes random crops for manual sorting.
func SampleCropsAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, func(cfg *config.Config) {
		if c.IsSet(flagCount) {
			cfg.Crops.Count = c.Int(flagCount)
		}
		if c.IsSet(flagMinSize) {
			cfg.Crops.MinSize = c.Int(flagMinSize)
		}
		if c.IsSet(flagMaxSize) {
			cfg.Crops.MaxSize = c.Int(flagMaxSize)
		}
		if c.IsSet(flagPerImage) {
			cfg.Crops.PerImage = c.Int(flagPerImage)
		}
		if c.IsSet(flagOutput) {
			cfg.Crops.OutputDir = c.String(flagOutput)
		}
	})
	if err != nil {
		return err
	}
	report, err := tk.SampleCrops(c.Context)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("wrote %d crops into %s", len(report.Written), report.Dir)
	pterm.Info.Println("sort them into the class folders of rank_data and suit_data, or run sort-crops")
	if len(report.Failures) > 0 {
		pterm.Warning.Printfln("%d crops failed", len(report.Failures))
		return report.Err()
	}
	return nil
}

// EmitConfigAction writes config.json.
func EmitConfigAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, func(cfg *config.Config) {
		if c.Bool(flagCard52) {
			cfg.Models.Card52 = true
		}
	})
	if err != nil {
		return err
	}
	path, err := tk.EmitConfig()
	if err != nil {
		return err
	}
	pterm.Success.Printfln("wrote %s", path)
	return nil
}

// TrainAction runs the training pipeline.
func TrainAction(c *cli.Context) error {
	tk, logger, err := newToolkit(c, func(cfg *config.Config) {
		if c.IsSet(flagConcurrency) {
			cfg.Training.Concurrency = c.Int(flagConcurrency)
		}
		if c.Bool(flagCard52) {
			cfg.Models.Card52 = true
		}
	})
	if err != nil {
		return err
	}
	if !c.Bool(flagSkipDeps) {
		if err := tk.CheckDependencies(c.Context); err != nil {
			return errors.Wrap(err, "missing training dependencies")
		}
	}

	g, err := tk.TrainingGraph(c.StringSlice(flagOnly))
	if err != nil {
		return err
	}
	logger.Infow("training pipeline", "order", strings.Join(g.TopologicalOrder(), " -> "))

	obs := newSpinnerObserver()
	res, runErr := tk.Train(c.Context, c.StringSlice(flagOnly), nil, obs)
	obs.Stop()
	if res != nil {
		fmt.Println(stageTable(res))
	}
	if models, err := tk.ModelsSummary(); err == nil && len(models) > 0 {
		fmt.Println(modelTable(models))
	}
	return runErr
}

// GuideAction writes the labelling guide.
func GuideAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	path, err := tk.WriteGuide()
	if err != nil {
		return err
	}
	pterm.Success.Printfln("wrote %s", path)
	return nil
}

// StatsAction prints the class distribution of classifier folders.
func StatsAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	var failed error
	for _, name := range c.StringSlice(flagClassifier) {
		dist, warnings, err := tk.CheckBalance(name)
		if err != nil && dist.Dir == "" {
			return err
		}
		fmt.Println(distributionTable(name, dist))
		for _, w := range warnings {
			pterm.Warning.Println(w)
		}
		if err != nil {
			pterm.Error.Println(err)
			failed = multierr.Append(failed, err)
		}
	}
	return failed
}

// VerifyAction checks the detector dataset.
func VerifyAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	report, err := tk.Verify()
	if err != nil {
		return err
	}
	fmt.Println(verifyTable(report))
	if dir := c.String(flagOverlay); dir != "" {
		n, err := tk.WriteOverlays(c.Context, report, dir)
		if err != nil {
			pterm.Warning.Printfln("some overlays could not be written: %v", err)
		}
		pterm.Info.Printfln("wrote %d label overlays to %s", n, dir)
	}
	for _, s := range []dataset.SplitCheck{report.Train, report.Val} {
		for _, img := range s.Unlabeled {
			pterm.Warning.Printfln("no label file: %s", img)
		}
		for _, issue := range s.Invalid {
			pterm.Error.Printfln("%s: %s", issue.Image, issue.Problem)
		}
	}
	if !report.Ready() {
		return errors.New("detection data is not ready for training")
	}
	pterm.Success.Println("detection data is ready for training")
	return nil
}

// CheckDepsAction reports missing training tools.
func CheckDepsAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	if err := tk.CheckAllDependencies(c.Context); err != nil {
		return err
	}
	pterm.Success.Println("all dependencies are installed")
	return nil
}

// ResizeAction normalizes classifier images.
func ResizeAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, nil)
	if err != nil {
		return err
	}
	var failed error
	for _, name := range c.StringSlice(flagClassifier) {
		report, err := tk.Resize(c.Context, name)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%s: %d resized, %d already %dx%d", name, report.Resized, report.Unchanged,
			tk.Config().Models.ClassifierInputSize, tk.Config().Models.ClassifierInputSize)
		failed = multierr.Append(failed, report.Err())
	}
	return failed
}

// SortCropsAction sorts crops with a vision model.
func SortCropsAction(c *cli.Context) error {
	tk, _, err := newToolkit(c, func(cfg *config.Config) {
		if c.IsSet(flagBackend) {
			cfg.Vision.Backend = c.String(flagBackend)
		}
		if c.IsSet(flagURL) {
			cfg.Vision.URL = c.String(flagURL)
		}
		if c.IsSet(flagModel) {
			cfg.Vision.Model = c.String(flagModel)
		}
		if c.IsSet(flagMinConfidence) {
			cfg.Vision.MinConfidence = c.Float64(flagMinConfidence)
		}
	})
	if err != nil {
		return err
	}
	report, err := tk.SortCrops(c.Context, c.String(flagClassifier), c.String(flagSource))
	if err != nil {
		return err
	}
	fmt.Println(sortTable(report))
	if n := report.Unsorted(); n > 0 {
		pterm.Info.Printfln("%d crops need manual review in %s", n, filepath.Join(report.Destination, labeler.UnsortedDir))
	}
	return report.Err()
}

func stopSpinner(s *pterm.SpinnerPrinter, err error) {
	if s != nil {
		s.Fail(err.Error())
	}
}
