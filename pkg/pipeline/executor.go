package pipeline

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runner executes the commands of a single stage.
type Runner interface {
	Run(ctx context.Context, stage Stage) error
}

// Observer is told when stages start and finish. Calls come from the
// coordinating goroutine, one at a time.
type Observer interface {
	StageStarted(name string)
	StageFinished(result StageResult)
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string
	State    StageState
	Duration time.Duration
	Err      error
}

// Result is the outcome of a pipeline run.
type Result struct {
	Stages map[string]StageResult
	// Order lists stages in the order they finished.
	Order []string
}

// State returns the final state of a stage.
func (r *Result) State(name string) StageState {
	return r.Stages[name].State
}

// Sorted returns the stage results ordered by name.
func (r *Result) Sorted() []StageResult {
	out := make([]StageResult, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Err combines the failures of every failed stage.
func (r *Result) Err() error {
	var err error
	for _, s := range r.Sorted() {
		if s.State == StageFailed {
			err = multierr.Append(err, &StageError{Stage: s.Name, Err: s.Err})
		}
	}
	return err
}

// Executor runs a Graph. Stages whose dependencies have completed run
// concurrently, up to Concurrency at once. A failed stage never stops
// independent stages; its dependents are skipped.
type Executor struct {
	Graph  *Graph
	Runner Runner
	// Concurrency bounds stages in flight; 0 means no bound.
	Concurrency int
	// CheckArtifacts makes a stage fail when an input is missing before it
	// starts or an output is missing after it finishes.
	CheckArtifacts bool
	Observer       Observer
	Logger         *zap.SugaredLogger
}

// NewExecutor creates an executor that checks artifacts.
func NewExecutor(g *Graph, runner Runner, logger *zap.SugaredLogger) (*Executor, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	if runner == nil {
		return nil, errors.New("nil runner")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{Graph: g, Runner: runner, CheckArtifacts: true, Logger: logger}, nil
}

// Run executes the graph until every stage is terminal. Cancelling ctx stops
// new stages from starting; the remaining ones are reported as skipped. The
// returned error combines stage failures and the context error.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	limit := e.Concurrency
	if limit <= 0 {
		limit = len(e.Graph.nodes)
	}

	state := NewExecutionState(e.Graph)
	result := &Result{Stages: make(map[string]StageResult, len(state))}
	done := make(chan StageResult)
	inFlight := 0

	for {
		if ctx.Err() == nil {
			for _, name := range ReadyStages(e.Graph, state) {
				if inFlight >= limit {
					break
				}
				state[name] = StageRunning
				inFlight++
				if e.Observer != nil {
					e.Observer.StageStarted(name)
				}
				logger.Infow("stage started", "stage", name)
				stage := e.Graph.byName[name].stage
				go func() {
					done <- e.runStage(ctx, stage)
				}()
			}
		}
		if inFlight == 0 {
			break
		}

		res := <-done
		inFlight--
		state[res.Name] = res.State
		e.record(result, res)

		if res.State == StageFailed {
			logger.Warnw("stage failed", "stage", res.Name, "error", res.Err)
			for _, name := range SkipDependents(e.Graph, state, res.Name) {
				e.record(result, StageResult{
					Name:  name,
					State: StageSkipped,
					Err:   errors.Errorf("dependency %s failed", res.Name),
				})
			}
			continue
		}
		logger.Infow("stage completed", "stage", res.Name, "duration", res.Duration)
	}

	for _, name := range e.Graph.Names() {
		if state[name] == StagePending {
			state[name] = StageSkipped
			e.record(result, StageResult{Name: name, State: StageSkipped, Err: ctx.Err()})
		}
	}
	return result, multierr.Append(result.Err(), ctx.Err())
}

func (e *Executor) record(r *Result, res StageResult) {
	r.Stages[res.Name] = res
	r.Order = append(r.Order, res.Name)
	if e.Observer != nil {
		e.Observer.StageFinished(res)
	}
}

func (e *Executor) runStage(ctx context.Context, stage Stage) StageResult {
	start := time.Now()
	err := e.execute(ctx, stage)
	res := StageResult{Name: stage.Name, State: StageCompleted, Duration: time.Since(start)}
	if err != nil {
		res.State = StageFailed
		res.Err = err
	}
	return res
}

func (e *Executor) execute(ctx context.Context, stage Stage) error {
	if e.CheckArtifacts {
		if err := requireArtifacts(stage.Inputs, "input"); err != nil {
			return err
		}
	}
	if stage.Precheck != nil {
		if err := stage.Precheck(ctx); err != nil {
			return errors.Wrap(err, "precheck")
		}
	}
	if err := e.Runner.Run(ctx, stage); err != nil {
		return err
	}
	if stage.Finish != nil {
		if err := stage.Finish(ctx); err != nil {
			return err
		}
	}
	if e.CheckArtifacts {
		return requireArtifacts(stage.Outputs, "output")
	}
	return nil
}

func requireArtifacts(paths []string, kind string) error {
	var err error
	for _, p := range paths {
		if _, statErr := os.Stat(p); statErr != nil {
			err = multierr.Append(err, errors.Errorf("missing %s artifact %s", kind, p))
		}
	}
	return err
}
