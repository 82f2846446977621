// Package client defines the contract shared by the vision model backends that
// suggest class labels for unsorted crops.
package client

import (
	"context"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// VisionClient talks to a vision language model. imgB64 is a base64 encoded JPEG
// or PNG.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	SuggestLabel(ctx context.Context, model, prompt, imgB64 string) (*types.LabelSuggestion, error)
}
