package cropper

import (
	"context"
	"image"
	"iter"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/processing"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// Config holds configuration for crop sampling
type Config struct {
	// Count is the number of source assets to sample (without replacement).
	Count int
	// MinSize and MaxSize bound the side of each square crop in source pixels.
	MinSize int
	MaxSize int
	// OutputSize is the side every crop is resized to.
	OutputSize    int
	CropsPerImage int
	Seed          *int64
}

// DefaultConfig returns the sampling used to seed classifier folders:
// ten images, three crops each, 64 to 128 pixels, resized to 64x64.
func DefaultConfig() Config {
	return Config{
		Count:         10,
		MinSize:       64,
		MaxSize:       128,
		OutputSize:    64,
		CropsPerImage: 3,
	}
}

// Validate checks the crop bounds.
func (c Config) Validate() error {
	if c.Count < 0 {
		return errors.Errorf("crop count must not be negative, got %d", c.Count)
	}
	if c.MinSize <= 0 || c.MaxSize < c.MinSize {
		return errors.Errorf("invalid crop size range [%d,%d]", c.MinSize, c.MaxSize)
	}
	if c.OutputSize <= 0 {
		return errors.Errorf("output size must be positive, got %d", c.OutputSize)
	}
	if c.CropsPerImage <= 0 {
		return errors.Errorf("crops per image must be positive, got %d", c.CropsPerImage)
	}
	return nil
}

// Sampler draws random square crops from source images.
type Sampler struct {
	config    Config
	processor *processing.Processor
}

// New creates a Sampler with the default configuration and no seed.
func New() *Sampler {
	return &Sampler{config: DefaultConfig(), processor: processing.NewProcessor()}
}

// NewWithConfig creates a Sampler with a custom configuration.
func NewWithConfig(config Config) (*Sampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{config: config, processor: processing.NewProcessor()}, nil
}

// SetProcessor replaces the processor used to decode and resize images.
func (s *Sampler) SetProcessor(p *processing.Processor) {
	s.processor = p
}

// Crops returns the crop sequence for assets. Nothing is decoded until the
// sequence is iterated.
func (s *Sampler) Crops(assets []types.ImageAsset) *Sequence {
	src := make([]types.ImageAsset, len(assets))
	copy(src, assets)
	return &Sequence{sampler: s, assets: src}
}

// Sequence is a finite, lazily evaluated set of crops.
type Sequence struct {
	sampler *Sampler
	assets  []types.ImageAsset
}

// Restartable reports whether every call to All yields the same crops.
func (q *Sequence) Restartable() bool {
	return q.sampler.config.Seed != nil
}

// Len is the number of crops a full iteration yields when every image decodes.
func (q *Sequence) Len() int {
	return q.sampled() * q.sampler.config.CropsPerImage
}

func (q *Sequence) sampled() int {
	return min(q.sampler.config.Count, len(q.assets))
}

// All iterates the crops. A source that fails to decode yields one error
// carrying its Source and Index, and iteration continues with the next source.
func (q *Sequence) All() iter.Seq2[types.CroppedImage, error] {
	return func(yield func(types.CroppedImage, error) bool) {
		cfg := q.sampler.config
		seed := time.Now().UnixNano()
		if cfg.Seed != nil {
			seed = *cfg.Seed
		}
		rng := dataset.NewRand(seed)
		picks := rng.Perm(len(q.assets))[:q.sampled()]

		for i, idx := range picks {
			asset := q.assets[idx]
			img, err := q.sampler.processor.LoadImage(asset.Path)
			if err == nil && img.Bounds().Empty() {
				err = errors.New("image has no pixels")
			}
			if err != nil {
				if !yield(types.CroppedImage{Source: asset, Index: i}, errors.Wrapf(err, "decode %s", asset.Path)) {
					return
				}
				continue
			}

			b := img.Bounds()
			for c := 0; c < cfg.CropsPerImage; c++ {
				size := cfg.MinSize + rng.IntN(cfg.MaxSize-cfg.MinSize+1)
				x, y := 0, 0
				// Sources narrower than the smallest crop give a crop of their
				// smaller side at the origin.
				if side := min(b.Dx(), b.Dy()); side < cfg.MinSize {
					size = side
				} else {
					size = min(size, side)
					x = rng.IntN(b.Dx() - size + 1)
					y = rng.IntN(b.Dy() - size + 1)
				}
				rect := image.Rect(x, y, x+size, y+size).Add(b.Min)

				out := types.CroppedImage{Source: asset, Index: i, CropIndex: c, Rect: rect}
				out.Image, err = q.sampler.processor.CropSquare(img, rect, cfg.OutputSize)
				if !yield(out, err) {
					return
				}
			}
		}
	}
}

// Failure pairs a crop with the reason it was not written.
type Failure struct {
	Crop types.CroppedImage
	Err  error
}

// WriteReport summarizes a WriteCrops run.
type WriteReport struct {
	Dir      string
	Written  []string
	Failures []Failure
}

// Err combines every failure, or returns nil.
func (r WriteReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, errors.Wrap(f.Err, f.Crop.Source.Path))
	}
	return err
}

// WriteCrops iterates seq and saves each crop into dir as
// sample_crop_<source>_<crop>.<ext>. Existing files with the same names are
// replaced. Failures are logged and recorded; only a dir that cannot be created
// or a cancelled ctx stops the run early.
func WriteCrops(ctx context.Context, seq *Sequence, dir, ext string, quality int, logger *zap.SugaredLogger) (WriteReport, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	report := WriteReport{Dir: dir}
	if err := utils.EnsureDir(dir); err != nil {
		return report, &dataset.DirectoryCreationError{Path: dir, Err: err}
	}
	if ext == "" {
		ext = "jpg"
	}

	for crop, err := range seq.All() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err == nil {
			path := filepath.Join(dir, crop.FileName(ext))
			if err = seq.sampler.processor.SaveImageAtomic(crop.Image, path, quality); err == nil {
				report.Written = append(report.Written, path)
				continue
			}
		}
		logger.Warnw("crop failed", "source", crop.Source.Path, "crop", crop.CropIndex, "error", err)
		report.Failures = append(report.Failures, Failure{Crop: crop, Err: err})
	}
	return report, nil
}
