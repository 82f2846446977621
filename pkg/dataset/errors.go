package dataset

import (
	"fmt"
	"strings"
)

// EmptyDatasetError is returned when there is nothing to partition.
type EmptyDatasetError struct {
	Source string
}

func (e *EmptyDatasetError) Error() string {
	if e.Source == "" {
		return "empty dataset: no images to partition"
	}
	return fmt.Sprintf("empty dataset: no images found in %s", e.Source)
}

// DirectoryCreationError names the directory that could not be created or written.
// It is fatal: callers abort instead of continuing with a partial tree.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("cannot create directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error { return e.Err }

// ClassCountError reports a classifier data directory whose classes do not match
// the expected label set.
type ClassCountError struct {
	Dir     string
	Empty   []string // expected labels without images
	Unknown []string // directories that are not in the label set
}

func (e *ClassCountError) Error() string {
	var parts []string
	if len(e.Empty) > 0 {
		parts = append(parts, "no images for "+strings.Join(e.Empty, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unexpected class directories "+strings.Join(e.Unknown, ", "))
	}
	return fmt.Sprintf("class mismatch in %s: %s", e.Dir, strings.Join(parts, "; "))
}

// ImbalanceError is returned by CheckBalance under the fail policy.
type ImbalanceError struct {
	Ratio    float64
	MaxRatio float64
	Largest  ClassCount
	Smallest ClassCount
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("class imbalance %.1fx exceeds %.1fx (%s=%d, %s=%d)",
		e.Ratio, e.MaxRatio, e.Largest.Label, e.Largest.Count, e.Smallest.Label, e.Smallest.Count)
}
