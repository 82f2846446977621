package dataset

import (
	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/internal/utils"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// Discover enumerates the images directly inside dir, sorted by path. A missing
// directory is an error; an empty one is an *EmptyDatasetError.
func Discover(dir string, exts []string) ([]types.ImageAsset, error) {
	if !utils.DirExists(dir) {
		return nil, errors.Errorf("source directory not found: %s", dir)
	}
	files, err := utils.ListImageFiles(dir, exts)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	if len(files) == 0 {
		return nil, &EmptyDatasetError{Source: dir}
	}
	assets := make([]types.ImageAsset, 0, len(files))
	for _, f := range files {
		assets = append(assets, types.NewImageAsset(f))
	}
	return assets, nil
}
