package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// GuideName is the file name of the generated labelling guide.
const GuideName = "LABELING_GUIDE.md"

var guideTmpl = template.Must(template.New("guide").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`# Labeling Guide

## Detection Labels

Create one .txt file per image in:
- {{.DetectionDir}}/labels/train/
- {{.DetectionDir}}/labels/val/

The file name matches the image (image_001.jpg -> image_001.txt). Each line
describes one object:

    class_id x_center y_center width height

All coordinates are normalized to 0..1 relative to the image size.

### Class IDs
{{range $i, $c := .Detector}}{{$i}}: {{$c}}
{{end}}
### Example label file
{{range .Example}}    {{.}}
{{end}}
## Classification Data

### Rank classification ({{len .Ranks}} classes)
Place {{.InputSize}}x{{.InputSize}} card corner crops in:
{{.RankDir}}/{{join .Ranks (printf "/, %s/" .RankDir)}}/

### Suit classification ({{len .Suits}} classes)
Place {{.InputSize}}x{{.InputSize}} card corner crops in:
{{.SuitDir}}/{{join .Suits (printf "/, %s/" .SuitDir)}}/

### Card classification ({{len .Card52}} classes, optional)
Folders in {{.Card52Dir}}/ are named rank + suit code, e.g. {{index .Card52 0}}, {{index .Card52 1}}.

## Preparing crops

1. Run the detector to find cards, or use sample crops as a starting point.
2. Crop the top-left corner of each card and resize it to {{.InputSize}}x{{.InputSize}}.
3. Sort crops into the class folders above (sort-crops can pre-sort with a vision model).
4. Keep classes balanced; check with the stats command.

## Next steps

1. Label the detection data.
2. Verify the layout with the verify command.
3. Train with the train command.
`))

// GuideData is the input of RenderGuide.
type GuideData struct {
	DetectionDir string
	RankDir      string
	SuitDir      string
	Card52Dir    string
	Detector     ClassLabelSet
	Ranks        ClassLabelSet
	Suits        ClassLabelSet
	Card52       ClassLabelSet
	InputSize    int
	Example      []string
}

// DefaultGuideData fills the guide with the built-in label sets.
func DefaultGuideData(inputSize int) GuideData {
	return GuideData{
		DetectionDir: DetectionDir,
		RankDir:      RankDir,
		SuitDir:      SuitDir,
		Card52Dir:    Card52Dir,
		Detector:     DetectorClasses,
		Ranks:        Ranks,
		Suits:        Suits,
		Card52:       Card52,
		InputSize:    inputSize,
		Example: []string{
			"0 0.5 0.3 0.1 0.15",
			"1 0.7 0.4 0.1 0.15",
			"2 0.2 0.8 0.08 0.12",
			"3 0.1 0.2 0.08 0.12",
		},
	}
}

// RenderGuide renders the labelling guide.
func RenderGuide(data GuideData) ([]byte, error) {
	var buf bytes.Buffer
	if err := guideTmpl.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(err, "rendering labeling guide")
	}
	return buf.Bytes(), nil
}

// WriteGuide renders the guide into dir and returns the file path.
func WriteGuide(dir string, data GuideData) (string, error) {
	out, err := RenderGuide(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, GuideName)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}
