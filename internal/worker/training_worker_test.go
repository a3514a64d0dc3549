package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/internal/queue"
	"github.com/modeltrainer/api/internal/registry"
	"github.com/modeltrainer/api/internal/trainer"
)

type trainerFunc func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error)

func (f trainerFunc) Train(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
	return f(ctx, spec, report)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	reg       *registry.Registry
	publisher *recordingPublisher
	jobID     string
	task      *asynq.Task
}

func setup(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	spec := model.JobSpec{LayerCount: 1, Units: []int{8}, Epochs: 3, BatchSize: 16, Optimizer: model.OptimizerAdam}
	h := &harness{
		reg:       registry.New(client, time.Hour),
		publisher: &recordingPublisher{},
		jobID:     "job-1",
	}
	if err := h.reg.Create(context.Background(), model.NewJob(h.jobID, spec, time.Now())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	task, err := queue.NewTrainTask(h.jobID, spec)
	if err != nil {
		t.Fatalf("NewTrainTask failed: %v", err)
	}
	h.task = task
	return h
}

func (h *harness) worker(tr trainer.Trainer, grace time.Duration) *TrainingWorker {
	return NewTrainingWorker(h.reg, h.publisher, tr, grace, nil)
}

func (h *harness) state(t *testing.T) model.JobState {
	t.Helper()
	job, err := h.reg.Get(context.Background(), h.jobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return job.State
}

func assertTypes(t *testing.T, got []model.EventType, want ...model.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected events %v, got %v", want, got)
		}
	}
}

func TestProcessTask_Success(t *testing.T) {
	h := setup(t)
	w := h.worker(trainer.NewSimulated(0), time.Second)

	if err := w.ProcessTask(context.Background(), h.task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	assertTypes(t, h.publisher.types(),
		model.EventTypeProgress, model.EventTypeProgress, model.EventTypeProgress, model.EventTypeSuccess)
	for i := 0; i < 3; i++ {
		if epoch := h.publisher.events[i].Progress.Epoch; epoch != i+1 {
			t.Errorf("Event %d: expected epoch %d, got %d", i, i+1, epoch)
		}
	}

	job, _ := h.reg.Get(context.Background(), h.jobID)
	if job.State != model.JobStateSuccess || job.Result == nil {
		t.Errorf("Expected SUCCESS with result, got %+v", job)
	}
	if job.StartedAt == nil || job.Worker == "" {
		t.Error("Expected start time and worker name to be recorded")
	}
}

func TestProcessTask_Failure(t *testing.T) {
	h := setup(t)
	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		report(model.Progress{Epoch: 1})
		return nil, errors.New("out of memory")
	}), time.Second)

	err := w.ProcessTask(context.Background(), h.task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("Expected SkipRetry, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrTraining) {
		t.Errorf("Expected ErrTraining, got %v", err)
	}

	assertTypes(t, h.publisher.types(), model.EventTypeProgress, model.EventTypeFailure)
	if msg := h.publisher.events[1].Error.Message; msg != "out of memory" {
		t.Errorf("Expected failure message, got %q", msg)
	}
	if s := h.state(t); s != model.JobStateFailure {
		t.Errorf("Expected FAILURE, got %s", s)
	}
}

func TestProcessTask_Panic(t *testing.T) {
	h := setup(t)
	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		panic("nan loss")
	}), time.Second)

	err := w.ProcessTask(context.Background(), h.task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("Expected SkipRetry, got %v", err)
	}
	assertTypes(t, h.publisher.types(), model.EventTypeFailure)
}

func TestProcessTask_RevokedWhileQueued(t *testing.T) {
	h := setup(t)
	if _, err := h.reg.Apply(context.Background(), model.NewRevokedEvent(h.jobID)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	called := false
	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		called = true
		return &model.Result{}, nil
	}), time.Second)

	if err := w.ProcessTask(context.Background(), h.task); err != nil {
		t.Fatalf("Expected skip without error, got %v", err)
	}
	if called {
		t.Error("Trainer must not run for a revoked job")
	}
	assertTypes(t, h.publisher.types())
}

func TestProcessTask_RevokedMidRun(t *testing.T) {
	h := setup(t)
	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		report(model.Progress{Epoch: 1})
		if _, err := h.reg.Apply(context.Background(), model.NewRevokedEvent(h.jobID)); err != nil {
			t.Errorf("Apply failed: %v", err)
		}
		report(model.Progress{Epoch: 2})
		<-ctx.Done()
		return nil, ctx.Err()
	}), time.Second)

	if err := w.ProcessTask(context.Background(), h.task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	assertTypes(t, h.publisher.types(), model.EventTypeProgress)
	if s := h.state(t); s != model.JobStateRevoked {
		t.Errorf("Expected REVOKED, got %s", s)
	}
}

func TestProcessTask_Cancelled(t *testing.T) {
	h := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := h.worker(trainerFunc(func(trainCtx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		report(model.Progress{Epoch: 1})
		cancel()
		<-trainCtx.Done()
		return nil, trainCtx.Err()
	}), time.Second)

	err := w.ProcessTask(ctx, h.task)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	assertTypes(t, h.publisher.types(), model.EventTypeProgress)
}

func TestProcessTask_MaxDuration(t *testing.T) {
	h := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), time.Second)

	err := w.ProcessTask(ctx, h.task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("Expected SkipRetry, got %v", err)
	}
	assertTypes(t, h.publisher.types(), model.EventTypeRevoked)
	if s := h.state(t); s != model.JobStateRevoked {
		t.Errorf("Expected REVOKED, got %s", s)
	}
}

func TestProcessTask_AbandonsStuckTrainer(t *testing.T) {
	h := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	finished := make(chan struct{})

	w := h.worker(trainerFunc(func(_ context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		defer close(finished)
		cancel()
		<-release
		report(model.Progress{Epoch: 1})
		return &model.Result{Accuracy: 1}, nil
	}), 10*time.Millisecond)

	err := w.ProcessTask(ctx, h.task)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	close(release)
	<-finished
	assertTypes(t, h.publisher.types())
}

func TestProcessTask_BadPayload(t *testing.T) {
	h := setup(t)
	w := h.worker(trainer.NewSimulated(0), time.Second)

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeTrain, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("Expected SkipRetry, got %v", err)
	}
}

func TestProcessTask_RequeuedRunSkipsReplayedEpochs(t *testing.T) {
	h := setup(t)
	// an earlier attempt reached epoch 2 before the worker shut down
	if _, err := h.reg.Apply(context.Background(), model.NewProgressEvent(h.jobID, model.Progress{Epoch: 2})); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	w := h.worker(trainerFunc(func(ctx context.Context, spec model.JobSpec, report trainer.Reporter) (*model.Result, error) {
		for epoch := 1; epoch <= spec.Epochs; epoch++ {
			report(model.Progress{Epoch: epoch})
		}
		return &model.Result{Accuracy: 0.8, Loss: 0.4}, nil
	}), time.Second)

	if err := w.ProcessTask(context.Background(), h.task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	assertTypes(t, h.publisher.types(), model.EventTypeProgress, model.EventTypeProgress, model.EventTypeSuccess)
	h.publisher.mu.Lock()
	epochs := []int{h.publisher.events[0].Progress.Epoch, h.publisher.events[1].Progress.Epoch}
	h.publisher.mu.Unlock()
	if epochs[0] != 2 || epochs[1] != 3 {
		t.Errorf("Expected published epochs [2 3], got %v", epochs)
	}
	if s := h.state(t); s != model.JobStateSuccess {
		t.Errorf("Expected SUCCESS, got %s", s)
	}
}
