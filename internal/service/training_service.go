package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/internal/registry"
)

// Dispatcher hands jobs to the worker pool
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, spec model.JobSpec) error
	Cancel(ctx context.Context, jobID string) error
}

// MetricsRecorder is an optional interface for recording job metrics
type MetricsRecorder interface {
	RecordJobSubmitted(ctx context.Context)
	RecordJobRevoked(ctx context.Context)
}

// TrainingService handles training job management
type TrainingService struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	publisher  eventbus.Publisher
	metrics    MetricsRecorder
}

func NewTrainingService(reg *registry.Registry, dispatcher Dispatcher, publisher eventbus.Publisher, metrics MetricsRecorder) *TrainingService {
	return &TrainingService{
		registry:   reg,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    metrics,
	}
}

// Submit records a PENDING job and queues it. The returned id is usable for
// status queries as soon as Submit returns.
func (s *TrainingService) Submit(ctx context.Context, spec model.JobSpec) (string, error) {
	jobID := uuid.New().String()
	job := model.NewJob(jobID, spec, time.Now())

	if err := s.registry.Create(ctx, job); err != nil {
		return "", apperrors.Dispatch("save job", err)
	}

	if err := s.dispatcher.Enqueue(ctx, jobID, spec); err != nil {
		// Without a task the record would stay PENDING until it expires.
		if delErr := s.registry.Delete(context.WithoutCancel(ctx), jobID); delErr != nil {
			log.Printf("Failed to remove orphaned job %s: %v", jobID, delErr)
		}
		return "", apperrors.Dispatch("enqueue", err)
	}

	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx)
	}
	log.Printf("Submitted training job %s", jobID)
	return jobID, nil
}

// Status returns the current registry snapshot of a job
func (s *TrainingService) Status(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.registry.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Transport("read job", err)
	}
	return job, nil
}

// Revoke cancels a job that has not finished. The record moves to REVOKED
// first; the worker then learns of it through asynq cancellation or by
// losing its next registry transition.
func (s *TrainingService) Revoke(ctx context.Context, jobID string) error {
	ev := model.NewRevokedEvent(jobID)
	if _, err := s.registry.Apply(ctx, ev); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrAlreadyTerminal) {
			return err
		}
		return apperrors.Transport("revoke job", err)
	}

	if err := s.dispatcher.Cancel(ctx, jobID); err != nil {
		log.Printf("Failed to cancel task for job %s: %v", jobID, err)
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Printf("Failed to publish revocation of job %s: %v", jobID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordJobRevoked(ctx)
	}
	log.Printf("Revoked training job %s", jobID)
	return nil
}
