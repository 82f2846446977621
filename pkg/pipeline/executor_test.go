package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// fakeRunner records calls, fails the named stages and can block until released.
type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	running int
	peak    int
	fail    map[string]bool
	gate    chan struct{}
	onRun   func(stage Stage)
	started chan string
}

func (f *fakeRunner) Run(ctx context.Context, stage Stage) error {
	f.mu.Lock()
	f.ran = append(f.ran, stage.Name)
	f.running++
	f.peak = max(f.peak, f.running)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- stage.Name
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.onRun != nil {
		f.onRun(stage)
	}
	if f.fail[stage.Name] {
		return errors.Errorf("%s exploded", stage.Name)
	}
	return nil
}

type recordingObserver struct {
	started  []string
	finished []StageResult
}

func (o *recordingObserver) StageStarted(name string)    { o.started = append(o.started, name) }
func (o *recordingObserver) StageFinished(r StageResult) { o.finished = append(o.finished, r) }

func TestExecutorRunsIndependentStagesConcurrently(t *testing.T) {
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)

	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 4)}
	exec, err := NewExecutor(g, runner, nil)
	test.That(t, err, test.ShouldBeNil)
	exec.CheckArtifacts = false
	obs := &recordingObserver{}
	exec.Observer = obs

	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := exec.Run(context.Background())
		done <- out{res, err}
	}()

	// Both roots start before either is allowed to finish.
	first, second := <-runner.started, <-runner.started
	test.That(t, []string{first, second}, test.ShouldContain, "a")
	test.That(t, []string{first, second}, test.ShouldContain, "b")
	close(runner.gate)

	var o out
	select {
	case o = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish")
	}
	test.That(t, o.err, test.ShouldBeNil)
	test.That(t, runner.peak, test.ShouldEqual, 2)
	for _, name := range []string{"a", "b", "config", "report"} {
		test.That(t, o.res.State(name), test.ShouldEqual, StageCompleted)
	}
	test.That(t, o.res.Order[2:], test.ShouldResemble, []string{"config", "report"})
	test.That(t, obs.started, test.ShouldHaveLength, 4)
	test.That(t, obs.finished, test.ShouldHaveLength, 4)
}

func TestExecutorFailureSkipsDependents(t *testing.T) {
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)

	runner := &fakeRunner{fail: map[string]bool{"b": true}}
	exec, err := NewExecutor(g, runner, nil)
	test.That(t, err, test.ShouldBeNil)
	exec.CheckArtifacts = false

	res, err := exec.Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stage b failed")

	var stageErr *StageError
	test.That(t, errors.As(res.Err(), &stageErr), test.ShouldBeTrue)
	test.That(t, stageErr.Stage, test.ShouldEqual, "b")

	test.That(t, res.State("a"), test.ShouldEqual, StageCompleted)
	test.That(t, res.State("b"), test.ShouldEqual, StageFailed)
	test.That(t, res.State("config"), test.ShouldEqual, StageSkipped)
	test.That(t, res.State("report"), test.ShouldEqual, StageSkipped)
	test.That(t, res.Stages["config"].Err.Error(), test.ShouldContainSubstring, "dependency b failed")
	test.That(t, runner.ran, test.ShouldNotContain, "config")
}

func TestExecutorConcurrencyLimit(t *testing.T) {
	stages := []Stage{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	g, err := NewGraph(stages)
	test.That(t, err, test.ShouldBeNil)

	runner := &fakeRunner{onRun: func(Stage) { time.Sleep(10 * time.Millisecond) }}
	exec, err := NewExecutor(g, runner, nil)
	test.That(t, err, test.ShouldBeNil)
	exec.Concurrency = 1

	_, err = exec.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, runner.peak, test.ShouldEqual, 1)
	test.That(t, runner.ran, test.ShouldResemble, []string{"a", "b", "c"})
}

func TestExecutorArtifacts(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mid := filepath.Join(dir, "mid.txt")
	out := filepath.Join(dir, "out.txt")
	test.That(t, os.WriteFile(in, []byte("x"), 0o644), test.ShouldBeNil)

	var prechecked, finished bool
	g, err := NewGraph([]Stage{
		{
			Name: "produce", Inputs: []string{in}, Outputs: []string{mid},
			Precheck: func(context.Context) error { prechecked = true; return nil },
			Finish: func(context.Context) error {
				finished = true
				return os.WriteFile(mid, []byte("y"), 0o644)
			},
		},
		// Never writes its declared output.
		{Name: "forget", Inputs: []string{mid}, Outputs: []string{out}},
		{Name: "blocked", Inputs: []string{filepath.Join(dir, "absent")}},
	})
	test.That(t, err, test.ShouldBeNil)

	exec, err := NewExecutor(g, &fakeRunner{}, nil)
	test.That(t, err, test.ShouldBeNil)
	res, err := exec.Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, prechecked, test.ShouldBeTrue)
	test.That(t, finished, test.ShouldBeTrue)
	test.That(t, res.State("produce"), test.ShouldEqual, StageCompleted)
	test.That(t, res.State("forget"), test.ShouldEqual, StageFailed)
	test.That(t, res.Stages["forget"].Err.Error(), test.ShouldContainSubstring, "missing output artifact")
	test.That(t, res.State("blocked"), test.ShouldEqual, StageFailed)
	test.That(t, res.Stages["blocked"].Err.Error(), test.ShouldContainSubstring, "missing input artifact")
}

func TestExecutorPrecheckFailure(t *testing.T) {
	g, err := NewGraph([]Stage{{
		Name:     "a",
		Precheck: func(context.Context) error { return errors.New("not enough data") },
	}})
	test.That(t, err, test.ShouldBeNil)
	runner := &fakeRunner{}
	exec, err := NewExecutor(g, runner, nil)
	test.That(t, err, test.ShouldBeNil)

	res, err := exec.Run(context.Background())
	test.That(t, err.Error(), test.ShouldContainSubstring, "precheck: not enough data")
	test.That(t, res.State("a"), test.ShouldEqual, StageFailed)
	test.That(t, runner.ran, test.ShouldBeEmpty)
}

func TestExecutorCancelled(t *testing.T) {
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)
	exec, err := NewExecutor(g, &fakeRunner{}, nil)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := exec.Run(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	for _, name := range g.Names() {
		test.That(t, res.State(name), test.ShouldEqual, StageSkipped)
	}
}

func TestNewExecutorRejectsNil(t *testing.T) {
	_, err := NewExecutor(nil, &fakeRunner{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	g, err := NewGraph(diamond())
	test.That(t, err, test.ShouldBeNil)
	_, err = NewExecutor(g, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
