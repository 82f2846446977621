package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Role is a structural directory of a dataset tree, relative to its root.
type Role string

// Detector layout roles.
const (
	RoleTrainImages Role = "images/train"
	RoleValImages   Role = "images/val"
	RoleTrainLabels Role = "labels/train"
	RoleValLabels   Role = "labels/val"
)

// RootKey is the DatasetLayout key of the root directory itself.
const RootKey = "."

// DetectorRoles is the role set consumed by the detector trainer.
var DetectorRoles = []Role{RoleTrainImages, RoleValImages, RoleTrainLabels, RoleValLabels}

func (r Role) validate() error {
	s := string(r)
	if s == "" || filepath.IsAbs(s) {
		return errors.Errorf("invalid role %q: must be a relative path", s)
	}
	clean := filepath.ToSlash(filepath.Clean(s))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.Errorf("invalid role %q: escapes the dataset root", s)
	}
	return nil
}

// DatasetLayout maps logical roles and class labels to directories.
type DatasetLayout struct {
	Root  string
	Paths map[string]string
}

// Path returns the directory for a role or class label.
func (l DatasetLayout) Path(key string) (string, bool) {
	p, ok := l.Paths[key]
	return p, ok
}

// MustPath is Path for keys the caller itself asked MaterializeLayout to create.
func (l DatasetLayout) MustPath(key string) string {
	p, ok := l.Paths[key]
	if !ok {
		panic("dataset: layout has no directory for " + key)
	}
	return p
}

// Dirs returns every directory in the layout, sorted.
func (l DatasetLayout) Dirs() []string {
	out := make([]string, 0, len(l.Paths))
	for _, p := range l.Paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MaterializeLayout creates root, every role directory and one directory per class
// label. Existing directories are reused and no file is touched, so calling it twice
// is harmless. Every returned path exists and is writable; the first failure is
// returned as a *DirectoryCreationError.
func MaterializeLayout(root string, labels ClassLabelSet, roles []Role) (DatasetLayout, error) {
	if err := labels.Validate(); err != nil {
		return DatasetLayout{}, err
	}
	for _, r := range roles {
		if err := r.validate(); err != nil {
			return DatasetLayout{}, err
		}
	}

	layout := DatasetLayout{Root: root, Paths: map[string]string{RootKey: root}}
	for _, r := range roles {
		layout.Paths[string(r)] = filepath.Join(root, filepath.FromSlash(string(r)))
	}
	for _, l := range labels {
		layout.Paths[l] = filepath.Join(root, l)
	}

	for _, dir := range layout.Dirs() {
		if err := ensureWritableDir(dir); err != nil {
			return DatasetLayout{}, err
		}
	}
	return layout, nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &DirectoryCreationError{Path: dir, Err: err}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return &DirectoryCreationError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &DirectoryCreationError{Path: dir, Err: errors.New("exists and is not a directory")}
	}
	probe, err := os.CreateTemp(dir, ".cardprep-probe-*")
	if err != nil {
		return &DirectoryCreationError{Path: dir, Err: errors.Wrap(err, "not writable")}
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return &DirectoryCreationError{Path: dir, Err: err}
	}
	return nil
}

// TreeSpec describes one subtree of the standard training data tree.
type TreeSpec struct {
	Name   string
	Labels ClassLabelSet
	Roles  []Role
}

// Standard subtree names.
const (
	DetectionDir   = "detection_data"
	RankDir        = "rank_data"
	SuitDir        = "suit_data"
	Card52Dir      = "card52_data"
	ModelsDir      = "models"
	RawImagesDir   = "raw_images"
	SampleCropsDir = "sample_crops"
)

// StandardTree is the full training data tree: the detector layout, one folder per
// class for each classifier, and working directories.
func StandardTree() []TreeSpec {
	return []TreeSpec{
		{Name: DetectionDir, Roles: DetectorRoles},
		{Name: RankDir, Labels: Ranks},
		{Name: SuitDir, Labels: Suits},
		{Name: Card52Dir, Labels: Card52},
		{Name: ModelsDir},
		{Name: RawImagesDir},
		{Name: SampleCropsDir},
	}
}

// Scaffold materializes every subtree under root, keyed by subtree name.
func Scaffold(root string, trees []TreeSpec) (map[string]DatasetLayout, error) {
	out := make(map[string]DatasetLayout, len(trees))
	for _, t := range trees {
		if t.Name == "" || strings.ContainsAny(t.Name, `/\`) {
			return nil, errors.Errorf("invalid subtree name %q", t.Name)
		}
		layout, err := MaterializeLayout(filepath.Join(root, t.Name), t.Labels, t.Roles)
		if err != nil {
			return nil, err
		}
		out[t.Name] = layout
	}
	return out, nil
}
