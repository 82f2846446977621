package dataset

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/MuscularCrab/SolSolve/internal/utils"
)

// ClassCount is the number of images in one class folder.
type ClassCount struct {
	Label string
	Count int
}

// Distribution is the per-class image count of a classifier data directory, in
// label-set order, plus any directories that are not part of the label set.
type Distribution struct {
	Dir     string
	Classes []ClassCount
	Unknown []ClassCount
}

// Total is the number of images across the expected classes.
func (d Distribution) Total() int {
	return lo.SumBy(d.Classes, func(c ClassCount) int { return c.Count })
}

// Empty returns the expected labels without any image.
func (d Distribution) Empty() []string {
	return lo.FilterMap(d.Classes, func(c ClassCount, _ int) (string, bool) { return c.Label, c.Count == 0 })
}

// Extremes returns the largest and smallest class.
func (d Distribution) Extremes() (largest, smallest ClassCount) {
	if len(d.Classes) == 0 {
		return ClassCount{}, ClassCount{}
	}
	largest = lo.MaxBy(d.Classes, func(a, b ClassCount) bool { return a.Count > b.Count })
	smallest = lo.MinBy(d.Classes, func(a, b ClassCount) bool { return a.Count < b.Count })
	return largest, smallest
}

// ImbalanceRatio is largest/smallest class size; +Inf when a class is empty.
func (d Distribution) ImbalanceRatio() float64 {
	largest, smallest := d.Extremes()
	if smallest.Count == 0 {
		if largest.Count == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return float64(largest.Count) / float64(smallest.Count)
}

// CountClasses counts the images of every class folder under dir. Missing class
// folders count as zero.
func CountClasses(dir string, labels ClassLabelSet, exts []string) (Distribution, error) {
	if !utils.DirExists(dir) {
		return Distribution{}, errors.Errorf("class data directory not found: %s", dir)
	}
	subdirs, err := utils.ListSubdirectories(dir)
	if err != nil {
		return Distribution{}, errors.Wrapf(err, "listing %s", dir)
	}
	count := func(name string) (int, error) {
		p := filepath.Join(dir, name)
		if !utils.DirExists(p) {
			return 0, nil
		}
		files, err := utils.ListImageFiles(p, exts)
		return len(files), err
	}

	dist := Distribution{Dir: dir}
	for _, l := range labels {
		n, err := count(l)
		if err != nil {
			return Distribution{}, errors.Wrapf(err, "counting %s", l)
		}
		dist.Classes = append(dist.Classes, ClassCount{Label: l, Count: n})
	}
	for _, name := range subdirs {
		if labels.Contains(name) {
			continue
		}
		n, err := count(name)
		if err != nil {
			return Distribution{}, errors.Wrapf(err, "counting %s", name)
		}
		dist.Unknown = append(dist.Unknown, ClassCount{Label: name, Count: n})
	}
	return dist, nil
}

// BalancePolicy decides what an imbalanced class distribution means.
type BalancePolicy string

// Balance policies.
const (
	BalanceWarn BalancePolicy = "warn"
	BalanceFail BalancePolicy = "fail"
)

// ParseBalancePolicy accepts "warn" or "fail".
func ParseBalancePolicy(s string) (BalancePolicy, error) {
	switch p := BalancePolicy(strings.ToLower(s)); p {
	case BalanceWarn, BalanceFail:
		return p, nil
	default:
		return "", errors.Errorf("unknown balance policy %q (use warn or fail)", s)
	}
}

// CheckBalance validates a classifier distribution before training. A class count
// mismatch (an expected class without images, or an unexpected class directory with
// images) is always an error since the trained model would disagree with the label
// list. Imbalance above maxRatio is a warning, or an *ImbalanceError under
// BalanceFail.
func CheckBalance(d Distribution, policy BalancePolicy, maxRatio float64) (warnings []string, err error) {
	unknown := lo.FilterMap(d.Unknown, func(c ClassCount, _ int) (string, bool) { return c.Label, c.Count > 0 })
	if empty := d.Empty(); len(empty) > 0 || len(unknown) > 0 {
		return nil, &ClassCountError{Dir: d.Dir, Empty: empty, Unknown: unknown}
	}
	for _, c := range d.Unknown {
		warnings = append(warnings, fmt.Sprintf("ignoring empty directory %s", c.Label))
	}
	if maxRatio <= 0 {
		return warnings, nil
	}
	ratio := d.ImbalanceRatio()
	if ratio <= maxRatio {
		return warnings, nil
	}
	largest, smallest := d.Extremes()
	imbalance := &ImbalanceError{Ratio: ratio, MaxRatio: maxRatio, Largest: largest, Smallest: smallest}
	if policy == BalanceFail {
		return warnings, imbalance
	}
	return append(warnings, imbalance.Error()), nil
}
