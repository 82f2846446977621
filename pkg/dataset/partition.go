package dataset

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// SplitRatio is the fraction of assets assigned to the training subset, in (0,1).
type SplitRatio float64

// DefaultSplit is the 80/20 train/validation split.
const DefaultSplit SplitRatio = 0.8

// Validate enforces 0 < ratio < 1.
func (r SplitRatio) Validate() error {
	if math.IsNaN(float64(r)) || r <= 0 || r >= 1 {
		return errors.Errorf("split ratio must be in (0,1), got %v", float64(r))
	}
	return nil
}

// Split is the outcome of Partition.
type Split struct {
	Train []types.ImageAsset
	Val   []types.ImageAsset
	// Seed is the seed the shuffle used. When Reproducible is false it was
	// derived from the clock and is only useful for logging.
	Seed         int64
	Reproducible bool
}

// Seed is a convenience for passing literal seeds to Partition.
func Seed(v int64) *int64 { return &v }

// Partition shuffles assets and splits them at floor(ratio*len). A single asset
// goes to the training subset when ratio >= 0.5. When seed is nil the shuffle is
// not reproducible and the returned Split says so.
func Partition(assets []types.ImageAsset, ratio SplitRatio, seed *int64) (Split, error) {
	if len(assets) == 0 {
		return Split{}, &EmptyDatasetError{}
	}
	if err := ratio.Validate(); err != nil {
		return Split{}, err
	}

	split := Split{Reproducible: seed != nil}
	if seed != nil {
		split.Seed = *seed
	} else {
		split.Seed = time.Now().UnixNano()
	}

	shuffled := make([]types.ImageAsset, len(assets))
	copy(shuffled, assets)
	rng := NewRand(split.Seed)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	idx := splitIndex(len(shuffled), ratio)
	split.Train = shuffled[:idx:idx]
	split.Val = shuffled[idx:]
	return split, nil
}

func splitIndex(n int, ratio SplitRatio) int {
	if n == 1 {
		if ratio >= 0.5 {
			return 1
		}
		return 0
	}
	return int(math.Floor(float64(ratio) * float64(n)))
}

// NewRand returns a deterministic generator for seed. Every random decision in
// this module draws from a generator built here rather than from global state.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}
