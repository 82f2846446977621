// Package video pulls still frames out of gameplay recordings so they can be
// organized into a detector dataset.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/pipeline"
)

// DefaultInterval keeps one frame in thirty, about one per second of 30fps video.
const DefaultInterval = 30

// FramePrefix starts the name of every extracted frame.
const FramePrefix = "frame_"

// Options tunes ExtractFrames.
type Options struct {
	// Interval keeps every Interval-th frame, starting with the first.
	Interval int
	// Quality is the ffmpeg JPEG quality scale, 2 (best) to 31.
	Quality int
	Logger  *zap.SugaredLogger
}

// Result lists the frames written.
type Result struct {
	Dir    string
	Frames []string
}

// ExtractFrames writes every Interval-th frame of videoPath into outDir as
// frame_0000.jpg, frame_0001.jpg and so on. Frames from an earlier run with
// the same names are overwritten.
func ExtractFrames(ctx context.Context, videoPath, outDir string, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Interval <= 0 {
		return Result{}, errors.Errorf("frame interval must be positive, got %d", opts.Interval)
	}
	if opts.Quality == 0 {
		opts.Quality = 2
	}
	if opts.Quality < 2 || opts.Quality > 31 {
		return Result{}, errors.Errorf("jpeg quality must be in [2,31], got %d", opts.Quality)
	}

	info, err := os.Stat(videoPath)
	if err != nil || info.IsDir() {
		return Result{}, errors.Errorf("video file not found: %s", videoPath)
	}
	// make sure ffmpeg is in the path before doing anything else
	if _, err := pipeline.LookupBinary("ffmpeg"); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, &dataset.DirectoryCreationError{Path: outDir, Err: err}
	}

	pattern := filepath.Join(outDir, FramePrefix+"%04d.jpg")
	var stderr bytes.Buffer
	stream := ffmpeg.Input(videoPath).
		Output(pattern, ffmpeg.KwArgs{
			"vf":           selectFilter(opts.Interval),
			"vsync":        "vfr",
			"q:v":          opts.Quality,
			"start_number": 0,
		}).
		OverWriteOutput().
		WithErrorOutput(&stderr)
	stream.Context = ctx

	logger.Debugw("extracting frames", "video", videoPath, "interval", opts.Interval, "args", stream.GetArgs())
	if err := stream.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errors.Wrapf(err, "ffmpeg failed: %s", strings.TrimSpace(lastLine(stderr.String())))
	}

	frames, err := listFrames(outDir)
	if err != nil {
		return Result{}, err
	}
	logger.Infow("extracted frames", "video", videoPath, "count", len(frames), "dir", outDir)
	return Result{Dir: outDir, Frames: frames}, nil
}

// selectFilter keeps frames whose index is a multiple of interval.
func selectFilter(interval int) string {
	return fmt.Sprintf(`select=not(mod(n\,%d))`, interval)
}

func listFrames(dir string) ([]string, error) {
	files, err := utils.ListImageFiles(dir, []string{".jpg"})
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, f := range files {
		if strings.HasPrefix(filepath.Base(f), FramePrefix) {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
