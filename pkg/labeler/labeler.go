// Package labeler sorts unlabelled crops into class folders with the help of a
// local vision model. Answers the model is unsure about land in an _unsorted
// folder for manual review; nothing is ever moved, only copied.
package labeler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MuscularCrab/SolSolve/pkg/client"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/llamacpp"
	"github.com/MuscularCrab/SolSolve/pkg/ollama"
	"github.com/MuscularCrab/SolSolve/pkg/processing"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// UnsortedDir collects crops no label could be assigned to.
const UnsortedDir = "_unsorted"

// Defaults for Options.
const (
	DefaultMinConfidence = 0.5
	DefaultMaxDim        = 512
	DefaultModel         = "openbmb/minicpm-v4.5"
)

// Backends understood by NewClient.
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// NewClient returns the vision client for backend. An empty url uses the
// backend default.
func NewClient(backend, url string) (client.VisionClient, error) {
	switch strings.ToLower(backend) {
	case BackendOllama:
		return ollama.NewClient(url)
	case BackendLlamaCpp, "llama.cpp":
		return llamacpp.NewClient(url)
	default:
		return nil, errors.Errorf("unknown backend %q (use ollama or llamacpp)", backend)
	}
}

// Options tunes a Labeler.
type Options struct {
	Model string
	// MinConfidence below which a suggestion is sent to UnsortedDir.
	MinConfidence float64
	// MaxDim bounds the long side of the image sent to the model.
	MaxDim int
	// Workers bounds concurrent model requests; local servers usually handle one.
	Workers int
	Logger  *zap.SugaredLogger
}

// Labeler asks a vision model which label of a fixed set an image shows.
type Labeler struct {
	client    client.VisionClient
	labels    dataset.ClassLabelSet
	opts      Options
	prompt    string
	processor *processing.Processor
	logger    *zap.SugaredLogger
}

// New builds a Labeler for labels.
func New(c client.VisionClient, labels dataset.ClassLabelSet, opts Options) (*Labeler, error) {
	if c == nil {
		return nil, errors.New("vision client is required")
	}
	if len(labels) == 0 {
		return nil, errors.New("at least one class label is required")
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	if labels.Contains(UnsortedDir) {
		return nil, errors.Errorf("%s is reserved", UnsortedDir)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, errors.Errorf("minimum confidence must be in [0,1], got %g", opts.MinConfidence)
	}
	if opts.MaxDim == 0 {
		opts.MaxDim = DefaultMaxDim
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Labeler{
		client:    c,
		labels:    labels,
		opts:      opts,
		prompt:    Prompt(labels),
		processor: processing.NewProcessor(),
		logger:    logger,
	}, nil
}

// Prompt is the instruction sent with every image.
func Prompt(labels dataset.ClassLabelSet) string {
	var b strings.Builder
	b.WriteString("You are sorting cropped images of playing cards from a solitaire game.\n")
	b.WriteString("Pick exactly one label from this list: ")
	b.WriteString(strings.Join(labels, ", "))
	b.WriteString(".\n\nReturn JSON only:\n")
	b.WriteString(`{"label": "one of the labels above", "confidence": 0.0, "reason": "short phrase"}`)
	b.WriteString("\n\nRULES\n")
	b.WriteString("- confidence is in [0,1].\n")
	b.WriteString("- If the image does not clearly show one of the labels, use an empty label and confidence 0.\n")
	b.WriteString("- JSON only. No markdown, no code fences, no comments.")
	return b.String()
}

// Decision is the outcome for one image. Label is empty when the image goes to
// UnsortedDir.
type Decision struct {
	Asset      types.ImageAsset
	Suggestion types.LabelSuggestion
	Label      string
}

// Folder is the class folder the image belongs in.
func (d Decision) Folder() string {
	if d.Label == "" {
		return UnsortedDir
	}
	return d.Label
}

var rankNames = map[string]string{
	"ace": "A", "jack": "J", "queen": "Q", "king": "K", "ten": "10", "t": "10",
}

// Resolve maps a model answer onto the label set: exact match first, then case
// insensitive, then singular suit names and spelled out ranks.
func (l *Labeler) Resolve(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	if l.labels.Contains(answer) {
		return answer, true
	}
	lower := strings.ToLower(answer)
	candidates := []string{lower, lower + "s"}
	if r, ok := rankNames[lower]; ok {
		candidates = append(candidates, strings.ToLower(r))
	}
	for _, label := range l.labels {
		if slices.Contains(candidates, strings.ToLower(label)) {
			return label, true
		}
	}
	return "", false
}

// Classify asks the model about one image.
func (l *Labeler) Classify(ctx context.Context, asset types.ImageAsset) (Decision, error) {
	img, err := l.processor.LoadImage(asset.Path)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "decoding %s", asset.Path)
	}
	b64, err := l.processor.PrepareImageForModel(img, "jpg", l.opts.MaxDim, 85)
	if err != nil {
		return Decision{}, errors.Wrap(err, "encoding image for model")
	}
	s, err := l.client.SuggestLabel(ctx, l.opts.Model, l.prompt, b64)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Asset: asset, Suggestion: *s}
	label, ok := l.Resolve(s.Label)
	switch {
	case !ok:
		l.logger.Debugw("label not in set", "image", asset.Path, "answer", s.Label, "reason", s.Reason)
	case s.Confidence < l.opts.MinConfidence:
		l.logger.Debugw("low confidence", "image", asset.Path, "label", label, "confidence", s.Confidence)
	default:
		d.Label = label
	}
	return d, nil
}

// Report summarizes a Sort run.
type Report struct {
	Destination string
	Decisions   []Decision
	// Counts is the number of images copied per folder, UnsortedDir included.
	Counts   map[string]int
	Failures []dataset.CopyFailure
}

// Unsorted is the number of images left for manual review.
func (r Report) Unsorted() int {
	return r.Counts[UnsortedDir]
}

// Err combines every per-image failure, or returns nil.
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, errors.Wrap(f.Err, f.Asset.Path))
	}
	return err
}

// Sort classifies every asset and copies it into destination/<label> or
// destination/_unsorted. Images the model could not be asked about are reported
// as failures and not copied. The returned error is only for setup problems and
// cancellation.
func (l *Labeler) Sort(ctx context.Context, assets []types.ImageAsset, destination string) (Report, error) {
	folders := append(slices.Clone(l.labels), UnsortedDir)
	layout, err := dataset.MaterializeLayout(destination, folders, nil)
	if err != nil {
		return Report{}, err
	}

	report := Report{Destination: destination, Counts: map[string]int{}}
	decisions := make([]*Decision, len(assets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i, asset := range assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := l.Classify(gctx, asset)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Warnw("classification failed", "image", asset.Path, "error", err)
				mu.Lock()
				report.Failures = append(report.Failures, dataset.CopyFailure{Asset: asset, Err: err})
				mu.Unlock()
				return nil
			}
			l.logger.Infow("classified", "image", asset.Name(), "folder", d.Folder(),
				"confidence", fmt.Sprintf("%.2f", d.Suggestion.Confidence))
			decisions[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	byFolder := map[string][]types.ImageAsset{}
	for _, d := range decisions {
		if d == nil {
			continue
		}
		report.Decisions = append(report.Decisions, *d)
		byFolder[d.Folder()] = append(byFolder[d.Folder()], d.Asset)
	}
	for _, folder := range folders {
		batch := byFolder[folder]
		if len(batch) == 0 {
			continue
		}
		cr := dataset.CopyAssets(ctx, batch, layout.MustPath(folder), dataset.CopyOptions{Logger: l.logger})
		report.Counts[folder] = cr.Copied
		report.Failures = append(report.Failures, cr.Failures...)
	}
	slices.SortFunc(report.Failures, func(a, b dataset.CopyFailure) int {
		return strings.Compare(a.Asset.Path, b.Asset.Path)
	})
	return report, ctx.Err()
}
