package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// MissingDirsError lists required directories that do not exist.
type MissingDirsError struct {
	Root    string
	Missing []string
}

func (e *MissingDirsError) Error() string {
	return "data directory " + e.Root + " is not organized, missing: " + strings.Join(e.Missing, ", ")
}

// TrainingInputs are the directories the training stages expect under the data root.
var TrainingInputs = []string{
	filepath.Join(DetectionDir, "images", "train"),
	filepath.Join(DetectionDir, "images", "val"),
	RankDir,
	SuitDir,
}

// RequireDirs checks that every relative directory exists under root.
func RequireDirs(root string, rel []string) error {
	var missing []string
	for _, r := range rel {
		if !utils.DirExists(filepath.Join(root, r)) {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &MissingDirsError{Root: root, Missing: missing}
	}
	return nil
}

// LabelIssue describes a label file that cannot be used.
type LabelIssue struct {
	Image   string
	Problem string
}

// LabeledImage is an image with a valid label file.
type LabeledImage struct {
	Path    string
	Objects []types.ObjectLabel
}

// SplitCheck is the verification result for one of train/val.
type SplitCheck struct {
	Images    int
	Labeled   int
	Objects   int
	Unlabeled []string
	Invalid   []LabelIssue
	// Valid holds the labels of every usable image, in listing order.
	Valid []LabeledImage
}

// VerifyReport is the verification result for a detector layout.
type VerifyReport struct {
	Train SplitCheck
	Val   SplitCheck
}

// Ready reports whether every image has a valid label file.
func (r VerifyReport) Ready() bool {
	for _, s := range []SplitCheck{r.Train, r.Val} {
		if len(s.Unlabeled) > 0 || len(s.Invalid) > 0 || s.Images == 0 {
			return false
		}
	}
	return true
}

// VerifyDetection checks a detector layout: required directories, and for every
// image a well-formed label file.
func VerifyDetection(root string, classes ClassLabelSet, exts []string) (VerifyReport, error) {
	if err := RequireDirs(root, []string{
		string(RoleTrainImages), string(RoleValImages), string(RoleTrainLabels), string(RoleValLabels),
	}); err != nil {
		return VerifyReport{}, err
	}
	train, err := verifySplit(root, RoleTrainImages, RoleTrainLabels, len(classes), exts)
	if err != nil {
		return VerifyReport{}, err
	}
	val, err := verifySplit(root, RoleValImages, RoleValLabels, len(classes), exts)
	if err != nil {
		return VerifyReport{}, err
	}
	return VerifyReport{Train: train, Val: val}, nil
}

func verifySplit(root string, images, labels Role, nc int, exts []string) (SplitCheck, error) {
	imgDir := filepath.Join(root, filepath.FromSlash(string(images)))
	lblDir := filepath.Join(root, filepath.FromSlash(string(labels)))
	files, err := utils.ListImageFiles(imgDir, exts)
	if err != nil {
		return SplitCheck{}, errors.Wrapf(err, "listing %s", imgDir)
	}
	check := SplitCheck{Images: len(files)}
	for _, img := range files {
		lp := LabelPathFor(img, lblDir)
		f, err := os.Open(lp)
		if os.IsNotExist(err) {
			check.Unlabeled = append(check.Unlabeled, filepath.Base(img))
			continue
		}
		if err != nil {
			return SplitCheck{}, err
		}
		objs, perr := ParseLabels(f, nc)
		f.Close()
		if perr != nil {
			check.Invalid = append(check.Invalid, LabelIssue{Image: filepath.Base(img), Problem: perr.Error()})
			continue
		}
		check.Labeled++
		check.Objects += len(objs)
		check.Valid = append(check.Valid, LabeledImage{Path: img, Objects: objs})
	}
	return check, nil
}
