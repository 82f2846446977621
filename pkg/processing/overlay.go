package processing

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// overlayPalette colors detector classes by class id, cycling past the end.
var overlayPalette = []color.NRGBA{
	{0, 255, 0, 255},   // card_face_up
	{255, 204, 0, 255}, // card_back
	{0, 170, 255, 255}, // pile_slot_tableau
	{255, 0, 0, 255},   // pile_slot_foundation
}

// DrawLabels returns a copy of img with every detector label outlined and its
// center marked with a cross. img is not modified.
func (p *Processor) DrawLabels(img image.Image, labels []types.ObjectLabel) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	side := min(b.Dx(), b.Dy())
	stroke := max(2, side/250)
	arm := max(4, side/100)

	for _, l := range labels {
		fill := image.NewUniform(overlayPalette[l.ClassID%len(overlayPalette)])
		r := boxRect(l.Box, b.Dx(), b.Dy())
		cx, cy := (r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2
		for _, part := range []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
			image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
			image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
			image.Rect(cx-arm, cy, cx+arm+1, cy+1),
			image.Rect(cx, cy-arm, cx+1, cy+arm+1),
		} {
			draw.Draw(out, part.Intersect(b), fill, image.Point{}, draw.Src)
		}
	}
	return out
}

// boxRect converts a normalized center-based box into pixel bounds, at least
// one pixel in each direction.
func boxRect(box types.Box, w, h int) image.Rectangle {
	px := func(v float64, size int) int {
		return int(math.Round(math.Min(math.Max(v, 0), 1) * float64(size)))
	}
	r := image.Rect(
		px(box.X-box.W/2, w), px(box.Y-box.H/2, h),
		px(box.X+box.W/2, w), px(box.Y+box.H/2, h),
	)
	r.Max.X = max(r.Max.X, r.Min.X+1)
	r.Max.Y = max(r.Max.Y, r.Min.Y+1)
	return r
}

// WriteOverlay draws labels over the image at src and saves the preview to dst.
func (p *Processor) WriteOverlay(src, dst string, labels []types.ObjectLabel) error {
	img, err := p.LoadImage(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(dst))
	}
	return p.SaveImageAtomic(p.DrawLabels(img, labels), dst, p.Quality)
}
