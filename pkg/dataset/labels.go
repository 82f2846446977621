package dataset

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ClassLabelSet is an ordered sequence of unique class names. The position of a
// label is its numeric class id in detector label files.
type ClassLabelSet []string

// Built-in label sets.
var (
	Ranks           = ClassLabelSet{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
	Suits           = ClassLabelSet{"clubs", "diamonds", "hearts", "spades"}
	SuitCodes       = []string{"C", "D", "H", "S"}
	Card52          = card52()
	DetectorClasses = ClassLabelSet{"card_face_up", "card_back", "pile_slot_tableau", "pile_slot_foundation"}
)

func card52() ClassLabelSet {
	return lo.FlatMap(Ranks, func(rank string, _ int) []string {
		return lo.Map(SuitCodes, func(suit string, _ int) string { return rank + suit })
	})
}

// LabelSetByName resolves one of the built-in label sets.
func LabelSetByName(name string) (ClassLabelSet, error) {
	switch strings.ToLower(name) {
	case "rank", "ranks":
		return Ranks, nil
	case "suit", "suits":
		return Suits, nil
	case "card52", "cards":
		return Card52, nil
	case "detector", "detection":
		return DetectorClasses, nil
	default:
		return nil, errors.Errorf("unknown label set %q (use rank, suit, card52 or detector)", name)
	}
}

// Validate checks that labels are non-empty, unique and usable as directory names.
func (s ClassLabelSet) Validate() error {
	for _, l := range s {
		if strings.TrimSpace(l) == "" {
			return errors.New("class label set contains an empty label")
		}
		if strings.ContainsAny(l, `/\`) || l == "." || l == ".." {
			return errors.Errorf("class label %q cannot be used as a directory name", l)
		}
	}
	if dups := lo.FindDuplicates(s); len(dups) > 0 {
		return errors.Errorf("duplicate class labels: %s", strings.Join(dups, ", "))
	}
	return nil
}

// ClassID returns the numeric id of label.
func (s ClassLabelSet) ClassID(label string) (int, bool) {
	i := lo.IndexOf(s, label)
	return i, i >= 0
}

// Contains reports whether label belongs to the set.
func (s ClassLabelSet) Contains(label string) bool {
	return lo.Contains(s, label)
}
