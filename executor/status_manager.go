// executor/status_manager.go

package executor

import (
	"sync"
	"time"
)

const (
	StateQueued     = "Queued"
	StateRunning    = "Running"
	StateCompleted  = "Completed"
	StateFailed     = "Failed"
	StateSkipped    = "Skipped"
	StateCached     = "Cached"
	StateRolledBack = "Rolled back"
)

type ExecutionStatus struct {
	Name      string
	Status    string
	ExitCode  int
	StartTime time.Time
	EndTime   time.Time
}

func (s ExecutionStatus) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

type ExerciseState struct {
	ExecutionStatus
	Outcome ExerciseStatus
	Targets []ExecutionStatus
}

// StatusManager records build progress as an Observer and hands out
// consistent snapshots to readers on other goroutines.
type StatusManager struct {
	NopObserver

	order     []string
	exercises map[string]*ExerciseState
	done      bool
	result    RunResult
	mu        sync.Mutex
	now       func() time.Time
}

func NewStatusManager(exercises, targets []string) *StatusManager {
	sm := &StatusManager{
		exercises: make(map[string]*ExerciseState),
		now:       time.Now,
	}
	for _, ex := range exercises {
		state := &ExerciseState{ExecutionStatus: ExecutionStatus{Name: ex, Status: StateQueued}}
		for _, tgt := range targets {
			state.Targets = append(state.Targets, ExecutionStatus{Name: tgt, Status: StateQueued})
		}
		sm.order = append(sm.order, ex)
		sm.exercises[ex] = state
	}
	return sm
}

func (sm *StatusManager) target(ex, name string) *ExecutionStatus {
	state, ok := sm.exercises[ex]
	if !ok {
		return nil
	}
	for i := range state.Targets {
		if state.Targets[i].Name == name {
			return &state.Targets[i]
		}
	}
	return nil
}

func (sm *StatusManager) ExerciseStarted(ex string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	state, ok := sm.exercises[ex]
	if !ok {
		return
	}
	state.Status = StateRunning
	state.StartTime = sm.now()
	state.EndTime = time.Time{}
	for i := range state.Targets {
		state.Targets[i] = ExecutionStatus{Name: state.Targets[i].Name, Status: StateQueued}
	}
}

func (sm *StatusManager) ExerciseFinished(ex string, status ExerciseStatus, outcome Outcome) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	state, ok := sm.exercises[ex]
	if !ok {
		return
	}
	state.Outcome = status
	state.ExitCode = outcome.Code
	state.EndTime = sm.now()
	if outcome.Code == 0 {
		state.Status = StateCompleted
	} else {
		state.Status = StateFailed
	}

	leftover := StateSkipped
	if status == StatusUpToDate {
		leftover = StateCached
	}
	for i := range state.Targets {
		if state.Targets[i].Status == StateQueued {
			state.Targets[i].Status = leftover
		}
	}
}

func (sm *StatusManager) TargetStarted(ex, target string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if t := sm.target(ex, target); t != nil {
		t.Status = StateRunning
		t.StartTime = sm.now()
	}
}

func (sm *StatusManager) TargetFinished(ex, target string, code int, elapsed time.Duration, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t := sm.target(ex, target)
	if t == nil {
		return
	}
	t.ExitCode = code
	t.EndTime = t.StartTime.Add(elapsed)
	if err != nil || code != 0 {
		t.Status = StateFailed
	} else {
		t.Status = StateCompleted
	}
}

func (sm *StatusManager) RolledBack(ex, target string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if t := sm.target(ex, target); t != nil {
		t.Status = StateRolledBack
	}
}

func (sm *StatusManager) RunFinished(result RunResult) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.done = true
	sm.result = RunResult{Changed: append([]string(nil), result.Changed...), Code: result.Code}
}

// Snapshot returns a copy of every exercise state in configuration order.
func (sm *StatusManager) Snapshot() []ExerciseState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	states := make([]ExerciseState, 0, len(sm.order))
	for _, ex := range sm.order {
		state := *sm.exercises[ex]
		state.Targets = append([]ExecutionStatus(nil), state.Targets...)
		states = append(states, state)
	}
	return states
}

// Done reports whether the run has finished, and its result if so.
func (sm *StatusManager) Done() (RunResult, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.result, sm.done
}

func (sm *StatusManager) FailedCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	count := 0
	for _, ex := range sm.order {
		if sm.exercises[ex].Status == StateFailed {
			count++
		}
	}
	return count
}
