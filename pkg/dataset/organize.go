package dataset

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OrganizeOptions configures Organize.
type OrganizeOptions struct {
	Source     string // flat directory of raw images
	Root       string // detector dataset root, e.g. <out>/detection_data
	Ratio      SplitRatio
	Seed       *int64
	Extensions []string
	Classes    ClassLabelSet // detector classes written to data.yaml
	Workers    int
	Logger     *zap.SugaredLogger
}

// OrganizeResult is everything Organize produced.
type OrganizeResult struct {
	Layout   DatasetLayout
	Split    Split
	Train    CopyReport
	Val      CopyReport
	DataYAML string
}

// Failed is the number of images that could not be copied.
func (r OrganizeResult) Failed() int {
	return len(r.Train.Failures) + len(r.Val.Failures)
}

// Organize builds the detector dataset: discover images in Source, split them,
// materialize the layout under Root, copy each subset and write data.yaml. Input
// problems are reported before anything is created. Per-file copy failures do not
// fail the call; they are in the returned reports.
func Organize(ctx context.Context, opts OrganizeOptions) (OrganizeResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := opts.Ratio.Validate(); err != nil {
		return OrganizeResult{}, err
	}
	classes := opts.Classes
	if len(classes) == 0 {
		classes = DetectorClasses
	}

	assets, err := Discover(opts.Source, opts.Extensions)
	if err != nil {
		return OrganizeResult{}, err
	}
	logger.Infow("found images", "source", opts.Source, "count", len(assets))

	split, err := Partition(assets, opts.Ratio, opts.Seed)
	if err != nil {
		return OrganizeResult{}, err
	}
	if !split.Reproducible {
		logger.Warnw("no seed given, split is not reproducible", "seed", split.Seed)
	}
	logger.Infow("split images", "train", len(split.Train), "val", len(split.Val), "ratio", float64(opts.Ratio))

	layout, err := MaterializeLayout(opts.Root, nil, DetectorRoles)
	if err != nil {
		return OrganizeResult{}, err
	}

	res := OrganizeResult{Layout: layout, Split: split}
	copyOpts := CopyOptions{Workers: opts.Workers, Logger: logger}
	res.Train = CopyAssets(ctx, split.Train, layout.MustPath(string(RoleTrainImages)), copyOpts)
	res.Val = CopyAssets(ctx, split.Val, layout.MustPath(string(RoleValImages)), copyOpts)
	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(err, "organize interrupted")
	}

	if res.DataYAML, err = WriteDataYAML(opts.Root, classes); err != nil {
		return res, err
	}
	logger.Infow("organized detector dataset",
		"root", opts.Root, "copied", res.Train.Copied+res.Val.Copied, "failed", res.Failed(), "data_yaml", res.DataYAML)
	return res, nil
}
