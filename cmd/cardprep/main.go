// Package main is the cardprep command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	solsolve "github.com/MuscularCrab/SolSolve"
	"github.com/MuscularCrab/SolSolve/pkg/labeler"
	"github.com/MuscularCrab/SolSolve/pkg/video"
)

const (
	// Global flags.
	flagConfig  = "config"
	flagDebug   = "debug"
	flagEnvFile = "env-file"
	flagRoot    = "root"
	flagSeed    = "seed"

	// Command flags.
	flagOverlay       = "overlay"
	flagInterval      = "interval"
	flagSource        = "source"
	flagRatio         = "ratio"
	flagCount         = "count"
	flagMinSize       = "min-size"
	flagMaxSize       = "max-size"
	flagPerImage      = "per-image"
	flagOutput        = "output"
	flagCard52        = "card52"
	flagOnly          = "only"
	flagConcurrency   = "concurrency"
	flagSkipDeps      = "skip-deps-check"
	flagClassifier    = "classifier"
	flagBackend       = "backend"
	flagURL           = "url"
	flagModel         = "model"
	flagMinConfidence = "min-confidence"
)

var app = &cli.App{
	Name:            "cardprep",
	Usage:           "prepare training data for the card recognition models and train them",
	Version:         solsolve.Version,
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagEnvFile,
			Usage: "load CARDPREP_* overrides from `FILE` (default .env when present)",
		},
		&cli.StringFlag{
			Name:  flagRoot,
			Usage: "training data root `DIR`",
		},
		&cli.Int64Flag{
			Name:  flagSeed,
			Usage: "seed for the train/val split and crop sampling",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "scaffold",
			Usage:  "create the training data directory tree",
			Action: ScaffoldAction,
		},
		{
			Name:      "extract-frames",
			Usage:     "extract every n-th frame of a gameplay recording into the raw images directory",
			ArgsUsage: "<video>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagInterval,
					Usage: "keep one frame in `N`",
					Value: video.DefaultInterval,
				},
			},
			Action: ExtractFramesAction,
		},
		{
			Name:  "organize",
			Usage: "split raw images into the detector train/val layout",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagSource,
					Usage: "directory of raw images",
				},
				&cli.Float64Flag{
					Name:  flagRatio,
					Usage: "fraction of images used for training",
				},
			},
			Action: OrganizeAction,
		},
		{
			Name:  "sample-crops",
			Usage: "write random square crops of raw images for sorting into classifier folders",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: flagCount, Usage: "number of source images to sample"},
				&cli.IntFlag{Name: flagMinSize, Usage: "smallest crop side in pixels"},
				&cli.IntFlag{Name: flagMaxSize, Usage: "largest crop side in pixels"},
				&cli.IntFlag{Name: flagPerImage, Usage: "crops per source image"},
				&cli.StringFlag{Name: flagOutput, Usage: "crop output `DIR`"},
			},
			Action: SampleCropsAction,
		},
		{
			Name:  "emit-config",
			Usage: "write config.json for the mobile runtime",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: flagCard52, Usage: "include the 52-class card model"},
			},
			Action: EmitConfigAction,
		},
		{
			Name:  "train",
			Usage: "run the training pipeline",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  flagOnly,
					Usage: "only run these stages (detector, rank, suit, card52, config)",
				},
				&cli.IntFlag{
					Name:  flagConcurrency,
					Usage: "maximum stages running at once, 0 for no limit",
				},
				&cli.BoolFlag{Name: flagCard52, Usage: "also train the 52-class card model"},
				&cli.BoolFlag{Name: flagSkipDeps, Usage: "do not check python packages and tools first"},
			},
			Action: TrainAction,
		},
		{
			Name:   "guide",
			Usage:  "write LABELING_GUIDE.md into the training data root",
			Action: GuideAction,
		},
		{
			Name:  "stats",
			Usage: "show the class distribution of classifier folders",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  flagClassifier,
					Usage: "classifiers to inspect (rank, suit, card52)",
					Value: cli.NewStringSlice("rank", "suit"),
				},
			},
			Action: StatsAction,
		},
		{
			Name:  "verify",
			Usage: "check the detector layout and its label files",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagOverlay,
					Usage: "write a preview of every labeled image with its boxes drawn into `DIR`",
				},
			},
			Action: VerifyAction,
		},
		{
			Name:   "check-deps",
			Usage:  "check that the training and frame extraction tools are installed",
			Action: CheckDepsAction,
		},
		{
			Name:  "resize",
			Usage: "normalize classifier images to the classifier input size",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  flagClassifier,
					Usage: "classifiers to resize (rank, suit, card52)",
					Value: cli.NewStringSlice("rank", "suit"),
				},
			},
			Action: ResizeAction,
		},
		{
			Name:  "sort-crops",
			Usage: "sort sample crops into classifier folders with a local vision model",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagClassifier,
					Usage:    "classifier whose folders receive the crops (rank, suit, card52)",
					Required: true,
				},
				&cli.StringFlag{Name: flagSource, Usage: "directory of crops (default the sample crops directory)"},
				&cli.StringFlag{Name: flagBackend, Usage: "vision backend: ollama or llamacpp"},
				&cli.StringFlag{Name: flagURL, Usage: "vision server URL"},
				&cli.StringFlag{Name: flagModel, Usage: "vision model name, e.g. " + labeler.DefaultModel},
				&cli.Float64Flag{Name: flagMinConfidence, Usage: "answers below this confidence go to " + labeler.UnsortedDir},
			},
			Action: SortCropsAction,
		},
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
