package executor

import "time"

// ExerciseStatus classifies how an exercise ended.
type ExerciseStatus string

const (
	StatusUpToDate ExerciseStatus = "up_to_date"
	StatusRebuilt  ExerciseStatus = "rebuilt"
	StatusFailed   ExerciseStatus = "failed"
	StatusMissing  ExerciseStatus = "missing"
	StatusError    ExerciseStatus = "error"
)

// Observer is notified of build progress. Calls arrive sequentially from the
// goroutine running the build.
type Observer interface {
	ExerciseStarted(ex string)
	ExerciseFinished(ex string, status ExerciseStatus, outcome Outcome)
	TargetStarted(ex, target string)
	// TargetFinished reports the exit code, or err if the compiler could not
	// be run.
	TargetFinished(ex, target string, code int, elapsed time.Duration, err error)
	RolledBack(ex, target string)
	RunFinished(result RunResult)
}

// NopObserver can be embedded to implement only some Observer methods.
type NopObserver struct{}

func (NopObserver) ExerciseStarted(string)                                   {}
func (NopObserver) ExerciseFinished(string, ExerciseStatus, Outcome)         {}
func (NopObserver) TargetStarted(string, string)                             {}
func (NopObserver) TargetFinished(string, string, int, time.Duration, error) {}
func (NopObserver) RolledBack(string, string)                                {}
func (NopObserver) RunFinished(RunResult)                                    {}

type observers []Observer

func (o observers) each(fn func(Observer)) {
	for _, obs := range o {
		fn(obs)
	}
}
