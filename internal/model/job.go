package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrStaleProgress is returned by Apply for a progress report older than the
// recorded one, as sent by a retried run replaying earlier epochs
var ErrStaleProgress = errors.New("stale progress")

// Job represents a submitted training job as stored in the registry
type Job struct {
	ID          string     `json:"id"`
	State       JobState   `json:"state"`
	Spec        JobSpec    `json:"spec"`
	Progress    *Progress  `json:"progress,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	Worker      string     `json:"worker,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobSpec holds validated hyperparameters for one training run
type JobSpec struct {
	LayerCount int       `json:"layers"`
	Units      []int     `json:"units"`
	Epochs     int       `json:"epochs"`
	BatchSize  int       `json:"batchSize"`
	Optimizer  Optimizer `json:"optimizer"`
}

// Progress is the latest per-epoch report of a running job
type Progress struct {
	Epoch   int                `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
}

// Result is the evaluation outcome of a finished job
type Result struct {
	Accuracy float64 `json:"accuracy"`
	Loss     float64 `json:"loss"`
}

// JobError carries the failure message of a failed job
type JobError struct {
	Message string `json:"message"`
}

// NewJob creates a pending job record
func NewJob(id string, spec JobSpec, now time.Time) *Job {
	return &Job{
		ID:        id,
		State:     JobStatePending,
		Spec:      spec,
		CreatedAt: now,
	}
}

// Apply records ev on the job, enforcing monotonic state transitions.
// It returns an error if the job is terminal or the transition is invalid.
func (j *Job) Apply(ev Event) error {
	next := ev.Type.State()
	if !j.State.CanTransition(next) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.State, next)
	}

	if ev.Type == EventTypeProgress && j.Progress != nil && ev.Progress != nil && ev.Progress.Epoch < j.Progress.Epoch {
		return fmt.Errorf("job %s: epoch %d after %d: %w", j.ID, ev.Progress.Epoch, j.Progress.Epoch, ErrStaleProgress)
	}

	j.State = next
	switch ev.Type {
	case EventTypeProgress:
		j.Progress = ev.Progress
	case EventTypeSuccess:
		j.Result = ev.Result
	case EventTypeFailure:
		j.Error = ev.Error
	}

	if next.Terminal() {
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		j.CompletedAt = &at
	}
	return nil
}
