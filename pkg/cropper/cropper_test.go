package cropper

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"

	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// createTestImage writes a simple patterned png and returns its asset
func createTestImage(t *testing.T, dir, name string, width, height int) types.ImageAsset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	path := filepath.Join(dir, name)
	test.That(t, imaging.Save(img, path), test.ShouldBeNil)
	return types.NewImageAsset(path)
}

func collect(t *testing.T, seq *Sequence) ([]types.CroppedImage, []error) {
	t.Helper()
	var crops []types.CroppedImage
	var errs []error
	for c, err := range seq.All() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		crops = append(crops, c)
	}
	return crops, errs
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.CropsPerImage, test.ShouldEqual, 3)
	test.That(t, cfg.OutputSize, test.ShouldEqual, 64)
	test.That(t, New().Crops(nil).Restartable(), test.ShouldBeFalse)

	_, err := NewWithConfig(Config{Count: 1, MinSize: 128, MaxSize: 64, OutputSize: 64, CropsPerImage: 3})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCropsSeeded(t *testing.T) {
	dir := t.TempDir()
	var assets []types.ImageAsset
	for i := 0; i < 5; i++ {
		assets = append(assets, createTestImage(t, dir, fmt.Sprintf("img_%d.png", i), 320, 240))
	}

	cfg := DefaultConfig()
	cfg.Count = 3
	cfg.Seed = dataset.Seed(7)
	s, err := NewWithConfig(cfg)
	test.That(t, err, test.ShouldBeNil)

	seq := s.Crops(assets)
	test.That(t, seq.Restartable(), test.ShouldBeTrue)
	test.That(t, seq.Len(), test.ShouldEqual, 9)

	first, errs := collect(t, seq)
	test.That(t, errs, test.ShouldBeEmpty)
	test.That(t, first, test.ShouldHaveLength, 9)

	sources := map[string]bool{}
	for _, c := range first {
		sources[c.Source.Path] = true
		test.That(t, c.Image.Bounds().Dx(), test.ShouldEqual, 64)
		test.That(t, c.Image.Bounds().Dy(), test.ShouldEqual, 64)
		test.That(t, c.Rect.Dx(), test.ShouldEqual, c.Rect.Dy())
		test.That(t, c.Rect.Dx(), test.ShouldBeGreaterThanOrEqualTo, 64)
		test.That(t, c.Rect.Dx(), test.ShouldBeLessThanOrEqualTo, 128)
		test.That(t, c.Rect.In(image.Rect(0, 0, 320, 240)), test.ShouldBeTrue)
	}
	test.That(t, sources, test.ShouldHaveLength, 3)

	second, _ := collect(t, seq)
	test.That(t, second, test.ShouldHaveLength, len(first))
	for i := range first {
		test.That(t, second[i].Source, test.ShouldResemble, first[i].Source)
		test.That(t, second[i].Rect, test.ShouldResemble, first[i].Rect)
	}
}

func TestCropsCountAboveAssets(t *testing.T) {
	dir := t.TempDir()
	assets := []types.ImageAsset{
		createTestImage(t, dir, "a.png", 200, 200),
		createTestImage(t, dir, "b.png", 200, 200),
	}
	cfg := DefaultConfig()
	cfg.Count = 50
	cfg.Seed = dataset.Seed(1)
	s, err := NewWithConfig(cfg)
	test.That(t, err, test.ShouldBeNil)

	crops, errs := collect(t, s.Crops(assets))
	test.That(t, errs, test.ShouldBeEmpty)
	test.That(t, crops, test.ShouldHaveLength, 6)
}

func TestCropsSmallImage(t *testing.T) {
	asset := createTestImage(t, t.TempDir(), "tiny.png", 32, 32)
	cfg := DefaultConfig()
	cfg.Seed = dataset.Seed(3)
	s, err := NewWithConfig(cfg)
	test.That(t, err, test.ShouldBeNil)

	crops, errs := collect(t, s.Crops([]types.ImageAsset{asset}))
	test.That(t, errs, test.ShouldBeEmpty)
	test.That(t, crops, test.ShouldHaveLength, 3)
	for _, c := range crops {
		test.That(t, c.Rect, test.ShouldResemble, image.Rect(0, 0, 32, 32))
		test.That(t, c.Image.Bounds().Dx(), test.ShouldEqual, 64)
	}

	// Only one side below the smallest crop still pins the crop to the origin.
	for _, dims := range [][2]int{{32, 200}, {200, 32}} {
		asset := createTestImage(t, t.TempDir(), "strip.png", dims[0], dims[1])
		crops, errs := collect(t, s.Crops([]types.ImageAsset{asset}))
		test.That(t, errs, test.ShouldBeEmpty)
		test.That(t, crops, test.ShouldHaveLength, 3)
		for _, c := range crops {
			test.That(t, c.Rect, test.ShouldResemble, image.Rect(0, 0, 32, 32))
		}
	}
}

func TestCropsUnreadableSource(t *testing.T) {
	dir := t.TempDir()
	good := createTestImage(t, dir, "good.png", 150, 150)
	badPath := filepath.Join(dir, "bad.jpg")
	test.That(t, os.WriteFile(badPath, []byte("garbage"), 0o644), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Seed = dataset.Seed(11)
	s, err := NewWithConfig(cfg)
	test.That(t, err, test.ShouldBeNil)

	crops, errs := collect(t, s.Crops([]types.ImageAsset{types.NewImageAsset(badPath), good}))
	test.That(t, crops, test.ShouldHaveLength, 3)
	test.That(t, errs, test.ShouldHaveLength, 1)
	test.That(t, errs[0].Error(), test.ShouldContainSubstring, "bad.jpg")
}

func TestWriteCrops(t *testing.T) {
	src := t.TempDir()
	assets := []types.ImageAsset{
		createTestImage(t, src, "a.png", 160, 120),
		createTestImage(t, src, "b.png", 160, 120),
	}
	cfg := DefaultConfig()
	cfg.Seed = dataset.Seed(5)
	s, err := NewWithConfig(cfg)
	test.That(t, err, test.ShouldBeNil)

	out := filepath.Join(t.TempDir(), dataset.SampleCropsDir)
	report, err := WriteCrops(context.Background(), s.Crops(assets), out, "jpg", 90, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Err(), test.ShouldBeNil)
	test.That(t, report.Written, test.ShouldHaveLength, 6)

	entries, err := os.ReadDir(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 6)
	test.That(t, entries[0].Name(), test.ShouldEqual, "sample_crop_000_00.jpg")

	// Writing the same seeded sequence again replaces the files.
	report, err = WriteCrops(context.Background(), s.Crops(assets), out, "jpg", 90, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Written, test.ShouldHaveLength, 6)
	entries, err = os.ReadDir(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 6)
}

func TestWriteCropsCancelled(t *testing.T) {
	asset := createTestImage(t, t.TempDir(), "a.png", 100, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WriteCrops(ctx, New().Crops([]types.ImageAsset{asset}), t.TempDir(), "png", 0, nil)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
