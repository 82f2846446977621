package pipeline

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/multierr"
)

// DependencyKind says how a dependency is looked up.
type DependencyKind string

const (
	PythonModule DependencyKind = "python-module"
	Binary       DependencyKind = "binary"
)

// Dependency is an external tool the training stages need.
type Dependency struct {
	Name string
	Kind DependencyKind
	// Package is the pip package providing a python module, when it differs
	// from the module name.
	Package string
}

// Remedy tells the user how to install the dependency.
func (d Dependency) Remedy() string {
	switch d.Kind {
	case PythonModule:
		pkg := d.Package
		if pkg == "" {
			pkg = d.Name
		}
		return "run: pip install " + pkg
	default:
		return fmt.Sprintf("install %s and make sure it is on PATH", d.Name)
	}
}

// TrainingDependencies are the python modules the default training commands
// import.
func TrainingDependencies() []Dependency {
	return []Dependency{
		{Name: "ultralytics", Kind: PythonModule},
		{Name: "tensorflow", Kind: PythonModule},
		{Name: "cv2", Kind: PythonModule, Package: "opencv-python"},
		{Name: "numpy", Kind: PythonModule},
		{Name: "PIL", Kind: PythonModule, Package: "pillow"},
	}
}

// FrameDependencies are the tools frame extraction needs.
func FrameDependencies() []Dependency {
	return []Dependency{{Name: "ffmpeg", Kind: Binary}}
}

// DefaultDependencies lists every external tool the toolkit can use.
func DefaultDependencies() []Dependency {
	return append(TrainingDependencies(), FrameDependencies()...)
}

// LookupBinary returns the path of an executable or a MissingDependencyError.
func LookupBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &MissingDependencyError{Dependency: Dependency{Name: name, Kind: Binary}, Err: err}
	}
	return path, nil
}

// CheckDependencies verifies every dependency, importing python modules with
// the given interpreter. It returns every missing dependency, combined.
func CheckDependencies(ctx context.Context, python string, deps []Dependency) error {
	var err error
	pythonOK := true
	if python == "" {
		python = "python3"
	}
	for _, d := range deps {
		if d.Kind != PythonModule {
			if _, lookErr := LookupBinary(d.Name); lookErr != nil {
				err = multierr.Append(err, &MissingDependencyError{Dependency: d, Err: lookErr})
			}
			continue
		}
		if !pythonOK {
			err = multierr.Append(err, &MissingDependencyError{Dependency: d})
			continue
		}
		if _, lookErr := exec.LookPath(python); lookErr != nil {
			pythonOK = false
			err = multierr.Append(err, &MissingDependencyError{Dependency: Dependency{Name: python, Kind: Binary}, Err: lookErr})
			err = multierr.Append(err, &MissingDependencyError{Dependency: d})
			continue
		}
		if runErr := exec.CommandContext(ctx, python, "-c", "import "+d.Name).Run(); runErr != nil {
			err = multierr.Append(err, &MissingDependencyError{Dependency: d, Err: runErr})
		}
	}
	return err
}
