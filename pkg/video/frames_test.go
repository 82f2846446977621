package video

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.viam.com/test"
)

func TestExtractFramesValidation(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "frames")

	_, err := ExtractFrames(context.Background(), filepath.Join(dir, "missing.mp4"), out, Options{Interval: 30})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "video file not found")

	_, err = ExtractFrames(context.Background(), dir, out, Options{Interval: 30})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "video file not found")

	_, err = ExtractFrames(context.Background(), "clip.mp4", out, Options{Interval: 0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "interval must be positive")

	_, err = ExtractFrames(context.Background(), "clip.mp4", out, Options{Interval: 5, Quality: 40})
	test.That(t, err, test.ShouldNotBeNil)

	_, statErr := os.Stat(out)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestSelectFilter(t *testing.T) {
	test.That(t, selectFilter(30), test.ShouldEqual, `select=not(mod(n\,30))`)
	test.That(t, lastLine("a\nb\nlast error\n"), test.ShouldEqual, "last error")
}

func TestExtractFrames(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	// 60 frames of the ffmpeg test pattern.
	err := ffmpeg.Input("testsrc=duration=2:size=160x120:rate=30", ffmpeg.KwArgs{"f": "lavfi"}).
		Output(clip, ffmpeg.KwArgs{"pix_fmt": "yuv420p"}).
		OverWriteOutput().
		Run()
	test.That(t, err, test.ShouldBeNil)

	out := filepath.Join(dir, "raw_images")
	res, err := ExtractFrames(context.Background(), clip, out, Options{Interval: 30})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Frames, test.ShouldHaveLength, 2)
	test.That(t, filepath.Base(res.Frames[0]), test.ShouldEqual, "frame_0000.jpg")

	// Running again overwrites the same frames.
	res, err = ExtractFrames(context.Background(), clip, out, Options{Interval: 30})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Frames, test.ShouldHaveLength, 2)
}
