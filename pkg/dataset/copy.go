package dataset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// CopyFailure pairs an asset with the reason its copy failed.
type CopyFailure struct {
	Asset types.ImageAsset
	Err   error
}

// CopyReport summarizes a CopyAssets batch. Partial success is normal.
type CopyReport struct {
	Destination string
	Copied      int
	Failures    []CopyFailure
	// Skipped counts assets never started because the context was cancelled.
	Skipped int
}

// Err combines every per-file failure, or returns nil.
func (r CopyReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, errors.Wrap(f.Err, f.Asset.Path))
	}
	return err
}

// CopyOptions tunes CopyAssets.
type CopyOptions struct {
	// Workers bounds concurrent copies; 0 means runtime.NumCPU().
	Workers int
	Logger  *zap.SugaredLogger
}

// CopyAssets copies every asset into destination keeping its file name. Each file
// is written to a temporary name and renamed into place, so a failed copy never
// leaves a partial file or clobbers an existing one. Failures are recorded and the
// batch goes on. Cancelling ctx stops new copies from starting; copies in flight
// finish.
func CopyAssets(ctx context.Context, assets []types.ImageAsset, destination string, opts CopyOptions) CopyReport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	report := CopyReport{Destination: destination}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)
	for i, asset := range assets {
		if ctx.Err() != nil {
			report.Skipped = len(assets) - i
			logger.Warnw("copy cancelled", "destination", destination, "skipped", report.Skipped)
			break
		}
		g.Go(func() error {
			err := copyFileAtomic(asset.Path, filepath.Join(destination, asset.Name()))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnw("copy failed", "source", asset.Path, "destination", destination, "error", err)
				report.Failures = append(report.Failures, CopyFailure{Asset: asset, Err: err})
				return nil
			}
			report.Copied++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Asset.Path < report.Failures[j].Asset.Path
	})
	return report
}

// CopyFile copies src to dst with the same guarantees as CopyAssets, for
// artifacts that are renamed on the way.
func CopyFile(src, dst string) error {
	return copyFileAtomic(src, dst)
}

func copyFileAtomic(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Errorf("%s is a directory", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return err
	}
	// Keep the source modification time; failing here does not undo the copy.
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}
