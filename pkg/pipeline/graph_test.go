package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func diamond() []Stage {
	return []Stage{
		{Name: "config", Inputs: []string{"models/a.tflite", "models/b.tflite"}, Outputs: []string{"models/config.json"}},
		{Name: "b", Inputs: []string{"data/b"}, Outputs: []string{"models/b.tflite"}},
		{Name: "a", Inputs: []string{"data/a", "./data/shared"}, Outputs: []string{"models/a.tflite"}},
		{Name: "report", Inputs: []string{"models/config.json"}, Outputs: []string{"report.txt"}},
	}
}

func TestNewGraph(t *testing.T) {
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Names(), test.ShouldResemble, []string{"a", "b", "config", "report"})
	test.That(t, g.TopologicalOrder(), test.ShouldResemble, []string{"a", "b", "config", "report"})
	test.That(t, g.Dependencies("config"), test.ShouldResemble, []string{"a", "b"})
	test.That(t, g.Dependents("a"), test.ShouldResemble, []string{"config", "report"})
	test.That(t, g.Dependents("report"), test.ShouldBeEmpty)
	test.That(t, g.ExternalInputs(), test.ShouldResemble, []string{"./data/shared", "data/a", "data/b"})

	d, ok := g.Depth("report")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldEqual, 2)

	test.That(t, g.Edges(), test.ShouldResemble, []Edge{
		{From: "a", To: "config", Artifact: "models/a.tflite"},
		{From: "b", To: "config", Artifact: "models/b.tflite"},
		{From: "config", To: "report", Artifact: "models/config.json"},
	})
}

func TestNewGraphRejects(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stages []Stage
		msg    string
	}{
		{"empty", nil, "no stages"},
		{"unnamed", []Stage{{}}, "stage name is required"},
		{"duplicate", []Stage{{Name: "a"}, {Name: "a"}}, "duplicate stage name"},
		{"producers", []Stage{
			{Name: "a", Outputs: []string{"out"}},
			{Name: "b", Outputs: []string{"./out"}},
		}, "produced by both"},
		{"self", []Stage{{Name: "a", Inputs: []string{"x"}, Outputs: []string{"x"}}}, "self-loop"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.stages)
			test.That(t, errors.Is(err, ErrInvalidGraph), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestNewGraphCycle(t *testing.T) {
	_, err := NewGraph([]Stage{
		{Name: "a", Inputs: []string{"c.out"}, Outputs: []string{"a.out"}},
		{Name: "b", Inputs: []string{"a.out"}, Outputs: []string{"b.out"}},
		{Name: "c", Inputs: []string{"b.out"}, Outputs: []string{"c.out"}},
		{Name: "d", Inputs: []string{"a.out"}},
	})
	test.That(t, errors.Is(err, ErrCycleFound), test.ShouldBeTrue)
	var ge *GraphError
	test.That(t, errors.As(err, &ge), test.ShouldBeTrue)
	test.That(t, ge.Msg, test.ShouldEqual, "cycle: a -> b -> c -> a")
}

func TestReadyStages(t *testing.T) {
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)

	state := NewExecutionState(g)
	test.That(t, ReadyStages(g, state), test.ShouldResemble, []string{"a", "b"})

	state["a"] = StageCompleted
	test.That(t, ReadyStages(g, state), test.ShouldResemble, []string{"b"})
	state["b"] = StageCompleted
	test.That(t, ReadyStages(g, state), test.ShouldResemble, []string{"config"})

	state = NewExecutionState(g)
	state["b"] = StageFailed
	test.That(t, SkipDependents(g, state, "b"), test.ShouldResemble, []string{"config", "report"})
	test.That(t, state["a"], test.ShouldEqual, StagePending)
	test.That(t, ReadyStages(g, state), test.ShouldResemble, []string{"a"})
}
