package pipeline

import "sort"

// StageState is the runtime state of a stage. The Graph itself never changes;
// each run keeps its own ExecutionState.
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageSkipped   StageState = "SKIPPED"
)

// IsTerminal reports whether the state is final.
func IsTerminal(s StageState) bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// ExecutionState maps stage name to its current state.
type ExecutionState map[string]StageState

// NewExecutionState returns a state with every stage pending.
func NewExecutionState(g *Graph) ExecutionState {
	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.stage.Name] = StagePending
	}
	return state
}

// ReadyStages returns the pending stages whose dependencies all completed,
// ordered by (depth, name). It does not mutate state.
func ReadyStages(g *Graph, state ExecutionState) []string {
	if g == nil {
		return nil
	}
	var ready []string
	for _, n := range g.nodes {
		if state[n.stage.Name] != StagePending {
			continue
		}
		ok := true
		for _, p := range g.incoming[n.index] {
			if state[g.nodes[p].stage.Name] != StageCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n.stage.Name)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		di, _ := g.Depth(ready[i])
		dj, _ := g.Depth(ready[j])
		if di != dj {
			return di < dj
		}
		return ready[i] < ready[j]
	})
	return ready
}

// SkipDependents marks every pending stage downstream of name as skipped and
// returns the names it changed.
func SkipDependents(g *Graph, state ExecutionState, name string) []string {
	var skipped []string
	for _, d := range g.Dependents(name) {
		if state[d] == StagePending {
			state[d] = StageSkipped
			skipped = append(skipped, d)
		}
	}
	return skipped
}
