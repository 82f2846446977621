package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestOrganize(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("frame_%04d.jpg", i)
		if i%3 == 0 {
			name = fmt.Sprintf("frame_%04d.PNG", i)
		}
		test.That(t, os.WriteFile(filepath.Join(src, name), []byte{byte(i)}, 0o644), test.ShouldBeNil)
	}
	test.That(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("skip"), 0o644), test.ShouldBeNil)

	root := filepath.Join(t.TempDir(), DetectionDir)
	res, err := Organize(context.Background(), OrganizeOptions{
		Source: src,
		Root:   root,
		Ratio:  0.8,
		Seed:   Seed(42),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Train.Copied, test.ShouldEqual, 8)
	test.That(t, res.Val.Copied, test.ShouldEqual, 2)
	test.That(t, res.Failed(), test.ShouldEqual, 0)

	train, err := os.ReadDir(filepath.Join(root, "images", "train"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, train, test.ShouldHaveLength, 8)
	val, err := os.ReadDir(filepath.Join(root, "images", "val"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldHaveLength, 2)

	desc, err := ReadDataYAML(res.DataYAML)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, desc.NC, test.ShouldEqual, 4)
	test.That(t, desc.Names, test.ShouldResemble, []string(DetectorClasses))
	test.That(t, desc.Train, test.ShouldEqual, "images/train")
	test.That(t, desc.Val, test.ShouldEqual, "images/val")
	test.That(t, filepath.IsAbs(desc.Path), test.ShouldBeTrue)

	// Running again on the same output is harmless.
	again, err := Organize(context.Background(), OrganizeOptions{Source: src, Root: root, Ratio: 0.8, Seed: Seed(42)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Train.Copied, test.ShouldEqual, 8)
}

func TestOrganizeEmptySource(t *testing.T) {
	src := t.TempDir()
	root := filepath.Join(t.TempDir(), "out")

	_, err := Organize(context.Background(), OrganizeOptions{Source: src, Root: root, Ratio: 0.8, Seed: Seed(42)})
	var empty *EmptyDatasetError
	test.That(t, errors.As(err, &empty), test.ShouldBeTrue)
	test.That(t, empty.Source, test.ShouldEqual, src)

	_, statErr := os.Stat(root)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestOrganizeMissingSource(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	_, err := Organize(context.Background(), OrganizeOptions{
		Source: filepath.Join(t.TempDir(), "absent"), Root: root, Ratio: 0.8,
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "source directory not found")

	_, statErr := os.Stat(root)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}
