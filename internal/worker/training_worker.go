package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/internal/queue"
	"github.com/modeltrainer/api/internal/registry"
	"github.com/modeltrainer/api/internal/trainer"
)

const finalizeTimeout = 10 * time.Second

// MetricsRecorder is an optional interface for recording worker metrics
type MetricsRecorder interface {
	RecordJobStarted(ctx context.Context)
	RecordJobFinished(ctx context.Context, state string, duration time.Duration)
}

// TrainingWorker runs training jobs
type TrainingWorker struct {
	registry    *registry.Registry
	publisher   eventbus.Publisher
	trainer     trainer.Trainer
	cancelGrace time.Duration
	metrics     MetricsRecorder
	name        string
}

// NewTrainingWorker creates a new training worker
func NewTrainingWorker(reg *registry.Registry, publisher eventbus.Publisher, tr trainer.Trainer, cancelGrace time.Duration, metrics MetricsRecorder) *TrainingWorker {
	name, err := os.Hostname()
	if err != nil {
		name = "worker"
	}
	return &TrainingWorker{
		registry:    reg,
		publisher:   publisher,
		trainer:     tr,
		cancelGrace: cancelGrace,
		metrics:     metrics,
		name:        fmt.Sprintf("%s-%d", name, os.Getpid()),
	}
}

type outcome struct {
	result *model.Result
	err    error
}

// ProcessTask handles training task processing
func (w *TrainingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseTrainTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID

	if err := w.markStarted(ctx, jobID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAlreadyTerminal):
			log.Printf("Skipping training job %s: %v", jobID, err)
			return nil
		case errors.Is(err, apperrors.ErrNotFound):
			log.Printf("Skipping training job %s: record expired", jobID)
			return nil
		}
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	log.Printf("Starting training job: %s", jobID)
	started := time.Now()
	if w.metrics != nil {
		w.metrics.RecordJobStarted(ctx)
	}

	trainCtx, cancelTrain := context.WithCancel(ctx)
	defer cancelTrain()

	r := &run{worker: w, jobID: jobID, ctx: ctx, cancel: cancelTrain}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("trainer panic: %v", p)}
			}
		}()
		res, err := w.trainer.Train(trainCtx, payload.Spec, r.report)
		done <- outcome{result: res, err: err}
	}()

	out := w.await(ctx, jobID, done)
	r.seal()

	state, err := w.settle(ctx, r, out)
	if w.metrics != nil {
		w.metrics.RecordJobFinished(context.WithoutCancel(ctx), state, time.Since(started))
	}
	return err
}

// await waits for the trainer. Once ctx ends the trainer gets cancelGrace to
// return; after that it is abandoned.
func (w *TrainingWorker) await(ctx context.Context, jobID string, done <-chan outcome) outcome {
	select {
	case out := <-done:
		return out
	case <-ctx.Done():
	}

	timer := time.NewTimer(w.cancelGrace)
	defer timer.Stop()
	select {
	case out := <-done:
		return out
	case <-timer.C:
		log.Printf("Trainer for job %s did not stop within %s, abandoning it", jobID, w.cancelGrace)
		return outcome{err: ctx.Err()}
	}
}

// settle records and publishes the terminal outcome and returns the error
// handed back to asynq
func (w *TrainingWorker) settle(ctx context.Context, r *run, out outcome) (string, error) {
	jobID := r.jobID

	switch {
	case out.err == nil && out.result != nil:
		w.finish(ctx, model.NewSuccessEvent(jobID, *out.result))
		log.Printf("Training job %s completed", jobID)
		return model.JobStateSuccess.String(), nil

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		w.finish(ctx, model.NewRevokedEvent(jobID))
		log.Printf("Training job %s exceeded its maximum duration", jobID)
		return model.JobStateRevoked.String(), fmt.Errorf("job %s exceeded max duration: %w", jobID, asynq.SkipRetry)

	case ctx.Err() != nil:
		// Revoked by the orchestrator, or the worker is shutting down and
		// asynq will requeue the task.
		log.Printf("Training job %s cancelled", jobID)
		return model.JobStateRevoked.String(), ctx.Err()

	case r.lost():
		log.Printf("Training job %s was finished elsewhere, stopped", jobID)
		return model.JobStateRevoked.String(), nil
	}

	cause := out.err
	if cause == nil {
		cause = errors.New("trainer returned no result")
	}
	w.finish(ctx, model.NewFailureEvent(jobID, cause.Error()))
	log.Printf("Training job %s failed: %v", jobID, cause)
	return model.JobStateFailure.String(), fmt.Errorf("%w: %w", apperrors.Training(jobID, cause), asynq.SkipRetry)
}

// finish publishes ev only if this worker wins the terminal transition
func (w *TrainingWorker) finish(ctx context.Context, ev model.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if _, err := w.registry.Apply(ctx, ev); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyTerminal) {
			log.Printf("Not publishing %s for job %s: %v", ev.Type, ev.JobID, err)
		} else {
			log.Printf("Failed to record %s for job %s: %v", ev.Type, ev.JobID, err)
		}
		return
	}

	if err := w.publisher.Publish(ctx, ev); err != nil {
		log.Printf("Failed to publish %s for job %s: %v", ev.Type, ev.JobID, err)
	}
}

func (w *TrainingWorker) markStarted(ctx context.Context, jobID string) error {
	_, err := w.registry.Update(ctx, jobID, func(job *model.Job) error {
		if job.State.Terminal() {
			return apperrors.AlreadyTerminal(job.ID, job.State)
		}
		now := time.Now()
		job.StartedAt = &now
		job.Worker = w.name
		return nil
	})
	return err
}

// run bridges the trainer's progress callback to the registry and the bus
type run struct {
	worker *TrainingWorker
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	gone    bool
}

func (r *run) report(p model.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	ev := model.NewProgressEvent(r.jobID, p)
	if _, err := r.worker.registry.Apply(r.ctx, ev); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyTerminal) {
			// Revoked while the cancellation signal was still in flight.
			r.stopped = true
			r.gone = true
			r.cancel()
			return
		}
		if errors.Is(err, model.ErrStaleProgress) {
			// A retried run stays quiet until it passes the recorded epoch.
			return
		}
		log.Printf("Failed to record progress for job %s: %v", r.jobID, err)
	}

	if err := r.worker.publisher.Publish(r.ctx, ev); err != nil {
		log.Printf("Failed to publish progress for job %s: %v", r.jobID, err)
	}
}

// seal stops any further progress publishing
func (r *run) seal() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *run) lost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gone
}
