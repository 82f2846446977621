package processing

import (
	"encoding/base64"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8((x * 255) / width), uint8((y * 255) / height), 128, 255})
		}
	}
	return img
}

func TestFitSquare(t *testing.T) {
	p := NewProcessor()
	out := p.FitSquare(createTestImage(200, 120), 64)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 64)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 64)

	same := createTestImage(64, 64)
	test.That(t, p.FitSquare(same, 64), test.ShouldEqual, same)
}

func TestCropSquare(t *testing.T) {
	p := NewProcessor()
	out, err := p.CropSquare(createTestImage(300, 200), image.Rect(10, 20, 110, 120), 64)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 64)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 64)

	_, err = p.CropSquare(createTestImage(50, 50), image.Rect(60, 60, 80, 80), 64)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSaveAndLoad(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "c.webp"} {
		path := filepath.Join(dir, name)
		test.That(t, p.SaveImageAtomic(createTestImage(40, 30), path, 0), test.ShouldBeNil)

		img, err := p.LoadImage(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 40)
		test.That(t, img.Bounds().Dy(), test.ShouldEqual, 30)
	}
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 3)

	test.That(t, os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte("not an image"), 0o644), test.ShouldBeNil)
	_, err = p.LoadImage(filepath.Join(dir, "bad.jpg"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	b64, err := p.PrepareImageForModel(createTestImage(800, 400), "jpg", 256, 85)
	test.That(t, err, test.ShouldBeNil)
	raw, err := base64.StdEncoding.DecodeString(b64)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw), test.ShouldBeGreaterThan, 0)
}
