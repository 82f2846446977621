package types

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// ImageAsset is a reference to one source image file. It is never mutated;
// organizers copy the underlying file, they do not move it.
type ImageAsset struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

// NewImageAsset builds an asset from a path, deriving the format from the extension.
func NewImageAsset(path string) ImageAsset {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "jpeg" {
		ext = "jpg"
	}
	return ImageAsset{Path: path, Format: ext}
}

// Name returns the file name of the asset.
func (a ImageAsset) Name() string {
	return filepath.Base(a.Path)
}

// Box represents a normalized bounding box, center based, with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Valid reports whether every coordinate lies in [0,1].
func (b Box) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.W, b.H} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// ObjectLabel is one line of a detector label file.
type ObjectLabel struct {
	ClassID int `json:"class_id"`
	Box     Box `json:"box"`
}

// String renders the label in the detector text format: "class_id x_center y_center width height".
func (l ObjectLabel) String() string {
	return fmt.Sprintf("%d %g %g %g %g", l.ClassID, l.Box.X, l.Box.Y, l.Box.W, l.Box.H)
}

// CroppedImage is one crop produced from a source asset.
type CroppedImage struct {
	Source    ImageAsset
	Index     int // position of the source among the sampled assets
	CropIndex int
	Rect      image.Rectangle // crop region in source pixel coordinates
	Image     image.Image
}

// FileName returns the conventional output name for the crop.
func (c CroppedImage) FileName(ext string) string {
	return fmt.Sprintf("sample_crop_%03d_%02d.%s", c.Index, c.CropIndex, strings.ToLower(ext))
}

// LabelSuggestion is the answer of a vision model asked to pick a class label for an image.
type LabelSuggestion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}
