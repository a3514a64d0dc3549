package model

// JobState is the lifecycle state of a training job
type JobState string

const (
	JobStatePending  JobState = "PENDING"
	JobStateProgress JobState = "PROGRESS"
	JobStateSuccess  JobState = "SUCCESS"
	JobStateFailure  JobState = "FAILURE"
	JobStateRevoked  JobState = "REVOKED"
)

var ValidJobStates = []JobState{
	JobStatePending, JobStateProgress, JobStateSuccess,
	JobStateFailure, JobStateRevoked,
}

func (s JobState) String() string {
	return string(s)
}

// Terminal reports whether no further transition is allowed out of s
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailure, JobStateRevoked:
		return true
	}
	return false
}

// CanTransition reports whether a job in state s may move to next.
// Transitions follow PENDING -> PROGRESS* -> terminal.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStatePending:
		return next != JobStatePending
	case JobStateProgress:
		return next != JobStatePending
	}
	return false
}

// EventType identifies the kind of lifecycle event carried on the bus
type EventType string

const (
	EventTypeProgress EventType = "PROGRESS"
	EventTypeSuccess  EventType = "SUCCESS"
	EventTypeFailure  EventType = "FAILURE"
	EventTypeRevoked  EventType = "REVOKED"
)

// Terminal reports whether the event closes the job lifecycle
func (t EventType) Terminal() bool {
	return t != EventTypeProgress
}

// State maps the event type onto the job state it records
func (t EventType) State() JobState {
	return JobState(t)
}

// Optimizer types
type Optimizer string

const (
	OptimizerAdam    Optimizer = "adam"
	OptimizerSGD     Optimizer = "sgd"
	OptimizerRMSprop Optimizer = "rmsprop"
)

var ValidOptimizers = []Optimizer{
	OptimizerAdam, OptimizerSGD, OptimizerRMSprop,
}
