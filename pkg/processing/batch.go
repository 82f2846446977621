package processing

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MuscularCrab/SolSolve/internal/utils"
)

// ResizeOptions tunes NormalizeDir.
type ResizeOptions struct {
	Size       int
	Quality    int
	Workers    int
	Extensions []string
	Logger     *zap.SugaredLogger
}

// ResizeFailure is an image NormalizeDir could not rewrite.
type ResizeFailure struct {
	Path string
	Err  error
}

// ResizeReport summarizes a NormalizeDir run.
type ResizeReport struct {
	Resized   int
	Unchanged int
	Failures  []ResizeFailure
}

// Err combines every per-image failure, or returns nil.
func (r ResizeReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, errors.Wrap(f.Err, f.Path))
	}
	return err
}

// NormalizeDir rewrites every image in the class folders under dir (and directly
// in dir) as a Size x Size center crop, keeping file names and formats. Images
// already at that size are left alone, so running it twice is a no-op. Each
// image is replaced atomically.
func (p *Processor) NormalizeDir(ctx context.Context, dir string, opts ResizeOptions) (ResizeReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Size <= 0 {
		return ResizeReport{}, errors.Errorf("size must be positive, got %d", opts.Size)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if !utils.DirExists(dir) {
		return ResizeReport{}, errors.Errorf("directory not found: %s", dir)
	}

	files, err := utils.ListImageFiles(dir, opts.Extensions)
	if err != nil {
		return ResizeReport{}, err
	}
	subdirs, err := utils.ListSubdirectories(dir)
	if err != nil {
		return ResizeReport{}, err
	}
	for _, sub := range subdirs {
		more, err := utils.ListImageFiles(filepath.Join(dir, sub), opts.Extensions)
		if err != nil {
			return ResizeReport{}, err
		}
		files = append(files, more...)
	}

	var report ResizeReport
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resized, err := p.normalizeFile(path, opts.Size, opts.Quality)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				logger.Warnw("resize failed", "image", path, "error", err)
				report.Failures = append(report.Failures, ResizeFailure{Path: path, Err: err})
			case resized:
				report.Resized++
			default:
				report.Unchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Path < report.Failures[j].Path })
	logger.Infow("normalized images", "dir", dir, "size", opts.Size, "resized", report.Resized,
		"unchanged", report.Unchanged, "failed", len(report.Failures))
	return report, nil
}

func (p *Processor) normalizeFile(path string, size, quality int) (bool, error) {
	img, err := p.LoadImage(path)
	if err != nil {
		return false, err
	}
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return false, nil
	}
	return true, p.SaveImageAtomic(p.FitSquare(img, size), path, quality)
}
