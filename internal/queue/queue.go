// Package queue dispatches training tasks to the asynq worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/modeltrainer/api/internal/model"
)

const TaskTypeTrain = "training:run"

// unboundedTimeout stands in for "no maximum duration"; asynq applies a
// 30 minute default when a task has neither timeout nor deadline.
const unboundedTimeout = 7 * 24 * time.Hour

// TrainPayload is the asynq task body
type TrainPayload struct {
	JobID string        `json:"jobId"`
	Spec  model.JobSpec `json:"spec"`
}

// NewTrainTask builds the task for one job
func NewTrainTask(jobID string, spec model.JobSpec) (*asynq.Task, error) {
	data, err := json.Marshal(TrainPayload{JobID: jobID, Spec: spec})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTrain, data), nil
}

// ParseTrainTask decodes a task built by NewTrainTask
func ParseTrainTask(t *asynq.Task) (*TrainPayload, error) {
	var payload TrainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return nil, errors.New("task payload has no job id")
	}
	return &payload, nil
}

// Options controls how tasks are enqueued
type Options struct {
	Queue       string
	MaxRetry    int
	Retention   time.Duration
	MaxDuration time.Duration
}

// Dispatcher enqueues and cancels training tasks. The asynq task id is the
// job id, so a job can be cancelled knowing only its id.
type Dispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      Options
}

// NewDispatcher creates a dispatcher
func NewDispatcher(client *asynq.Client, inspector *asynq.Inspector, opts Options) *Dispatcher {
	if opts.Queue == "" {
		opts.Queue = "training"
	}
	return &Dispatcher{
		client:    client,
		inspector: inspector,
		opts:      opts,
	}
}

// TaskOptions returns the enqueue options for jobID
func (d *Dispatcher) TaskOptions(jobID string) []asynq.Option {
	timeout := d.opts.MaxDuration
	if timeout <= 0 {
		timeout = unboundedTimeout
	}
	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Queue(d.opts.Queue),
		asynq.MaxRetry(d.opts.MaxRetry),
		asynq.Timeout(timeout),
	}
	if d.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(d.opts.Retention))
	}
	return opts
}

// Enqueue schedules the training task for jobID
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string, spec model.JobSpec) error {
	task, err := NewTrainTask(jobID, spec)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := d.client.EnqueueContext(ctx, task, d.TaskOptions(jobID)...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Enqueued task %s on queue %s", info.ID, info.Queue)
	return nil
}

// Cancel stops jobID wherever it is: an active task gets a cancellation
// signal, a waiting one is deleted. A task that is already gone is not an
// error.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	info, err := d.inspector.GetTaskInfo(d.opts.Queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("failed to inspect task: %w", err)
	}

	switch info.State {
	case asynq.TaskStateActive:
		return d.cancelActive(jobID)
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry, asynq.TaskStateAggregating:
		if err := d.inspector.DeleteTask(d.opts.Queue, jobID); err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) {
				return nil
			}
			// The task may have been picked up between the lookup and the delete.
			return d.cancelActive(jobID)
		}
		log.Printf("Deleted queued task %s", jobID)
	}
	return nil
}

func (d *Dispatcher) cancelActive(jobID string) error {
	if err := d.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	log.Printf("Sent cancellation signal for task %s", jobID)
	return nil
}
