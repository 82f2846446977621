package dataset

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// DataYAMLName is the detector dataset descriptor file name.
const DataYAMLName = "data.yaml"

// DataYAML is the detector dataset descriptor.
type DataYAML struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// NewDataYAML describes the detector layout rooted at root.
func NewDataYAML(root string, classes ClassLabelSet) (DataYAML, error) {
	if len(classes) == 0 {
		return DataYAML{}, errors.New("detector needs at least one class")
	}
	if err := classes.Validate(); err != nil {
		return DataYAML{}, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return DataYAML{}, errors.Wrap(err, "resolving dataset root")
	}
	return DataYAML{
		Path:  abs,
		Train: string(RoleTrainImages),
		Val:   string(RoleValImages),
		NC:    len(classes),
		Names: append([]string(nil), classes...),
	}, nil
}

// WriteDataYAML writes root/data.yaml and returns its path.
func WriteDataYAML(root string, classes ClassLabelSet) (string, error) {
	desc, err := NewDataYAML(root, classes)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return "", errors.Wrap(err, "encoding data.yaml")
	}
	path := filepath.Join(root, DataYAMLName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}

// ReadDataYAML loads a detector dataset descriptor.
func ReadDataYAML(path string) (DataYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DataYAML{}, errors.Wrapf(err, "reading %s", path)
	}
	var desc DataYAML
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return DataYAML{}, errors.Wrapf(err, "parsing %s", path)
	}
	if desc.NC != len(desc.Names) {
		return DataYAML{}, errors.Errorf("%s: nc=%d but %d names", path, desc.NC, len(desc.Names))
	}
	return desc, nil
}

// LabelPathFor returns the label file that belongs to an image.
func LabelPathFor(imagePath, labelsDir string) string {
	base := filepath.Base(imagePath)
	return filepath.Join(labelsDir, strings.TrimSuffix(base, filepath.Ext(base))+".txt")
}

// ParseLabels reads detector label lines. Blank lines are ignored. Class ids must be
// below nc and every coordinate must be normalized.
func ParseLabels(r io.Reader, nc int) ([]types.ObjectLabel, error) {
	var out []types.ObjectLabel
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 5 {
			return nil, errors.Errorf("line %d: want 5 fields, got %d", line, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Errorf("line %d: class id %q is not an integer", line, fields[0])
		}
		if id < 0 || id >= nc {
			return nil, errors.Errorf("line %d: class id %d out of range [0,%d)", line, id, nc)
		}
		var coords [4]float64
		for i := range coords {
			if coords[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
				return nil, errors.Errorf("line %d: coordinate %q is not a number", line, fields[i+1])
			}
		}
		box := types.Box{X: coords[0], Y: coords[1], W: coords[2], H: coords[3]}
		if !box.Valid() {
			return nil, errors.Errorf("line %d: coordinates must be normalized to [0,1]", line)
		}
		out = append(out, types.ObjectLabel{ClassID: id, Box: box})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteLabels writes labels to path, one object per line.
func WriteLabels(path string, labels []types.ObjectLabel) error {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
