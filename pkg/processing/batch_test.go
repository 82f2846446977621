package processing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
)

func TestNormalizeDir(t *testing.T) {
	dir := t.TempDir()
	for _, class := range []string{"A", "K"} {
		test.That(t, os.MkdirAll(filepath.Join(dir, class), 0o755), test.ShouldBeNil)
	}
	p := NewProcessor()
	test.That(t, imaging.Save(createTestImage(120, 90), filepath.Join(dir, "A", "a1.png")), test.ShouldBeNil)
	test.That(t, imaging.Save(createTestImage(64, 64), filepath.Join(dir, "A", "a2.png")), test.ShouldBeNil)
	test.That(t, imaging.Save(createTestImage(30, 200), filepath.Join(dir, "K", "k1.jpg")), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "K", "broken.jpg"), []byte("not an image"), 0o644), test.ShouldBeNil)

	report, err := p.NormalizeDir(context.Background(), dir, ResizeOptions{Size: 64, Workers: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Resized, test.ShouldEqual, 2)
	test.That(t, report.Unchanged, test.ShouldEqual, 1)
	test.That(t, report.Failures, test.ShouldHaveLength, 1)
	test.That(t, filepath.Base(report.Failures[0].Path), test.ShouldEqual, "broken.jpg")
	test.That(t, report.Err(), test.ShouldNotBeNil)

	for _, rel := range []string{"A/a1.png", "K/k1.jpg"} {
		img, err := p.LoadImage(filepath.Join(dir, rel))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 64)
		test.That(t, img.Bounds().Dy(), test.ShouldEqual, 64)
	}

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "A"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 2)

	report, err = p.NormalizeDir(context.Background(), dir, ResizeOptions{Size: 64})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Resized, test.ShouldEqual, 0)
	test.That(t, report.Unchanged, test.ShouldEqual, 3)
}

func TestNormalizeDirErrors(t *testing.T) {
	p := NewProcessor()
	_, err := p.NormalizeDir(context.Background(), t.TempDir(), ResizeOptions{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = p.NormalizeDir(context.Background(), filepath.Join(t.TempDir(), "missing"), ResizeOptions{Size: 64})
	test.That(t, err, test.ShouldNotBeNil)
}
