package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/modeltrainer/api/internal/model"
	"github.com/redis/go-redis/v9"
)

func testSpec() model.JobSpec {
	return model.JobSpec{LayerCount: 1, Units: []int{16}, Epochs: 3, BatchSize: 32, Optimizer: model.OptimizerSGD}
}

func TestParseTrainTask(t *testing.T) {
	task, err := NewTrainTask("job-1", testSpec())
	if err != nil {
		t.Fatalf("NewTrainTask failed: %v", err)
	}
	if task.Type() != TaskTypeTrain {
		t.Errorf("Expected type %s, got %s", TaskTypeTrain, task.Type())
	}

	payload, err := ParseTrainTask(task)
	if err != nil {
		t.Fatalf("ParseTrainTask failed: %v", err)
	}
	if payload.JobID != "job-1" || payload.Spec.Optimizer != model.OptimizerSGD || len(payload.Spec.Units) != 1 {
		t.Errorf("Unexpected payload: %+v", payload)
	}
}

func TestParseTrainTask_Invalid(t *testing.T) {
	if _, err := ParseTrainTask(asynq.NewTask(TaskTypeTrain, []byte("{"))); err == nil {
		t.Error("Expected error for malformed payload")
	}
	if _, err := ParseTrainTask(asynq.NewTask(TaskTypeTrain, []byte(`{"spec":{}}`))); err == nil {
		t.Error("Expected error for missing job id")
	}
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]interface{} {
	values := make(map[asynq.OptionType]interface{})
	for _, o := range opts {
		values[o.Type()] = o.Value()
	}
	return values
}

func TestTaskOptions(t *testing.T) {
	d := NewDispatcher(nil, nil, Options{Queue: "training", MaxRetry: 2, Retention: time.Hour, MaxDuration: 10 * time.Minute})
	values := optionValues(d.TaskOptions("job-9"))

	if values[asynq.TaskIDOpt] != "job-9" {
		t.Errorf("Expected task id job-9, got %v", values[asynq.TaskIDOpt])
	}
	if values[asynq.QueueOpt] != "training" {
		t.Errorf("Expected queue training, got %v", values[asynq.QueueOpt])
	}
	if values[asynq.MaxRetryOpt] != 2 {
		t.Errorf("Expected max retry 2, got %v", values[asynq.MaxRetryOpt])
	}
	if values[asynq.TimeoutOpt] != 10*time.Minute {
		t.Errorf("Expected timeout 10m, got %v", values[asynq.TimeoutOpt])
	}
	if values[asynq.RetentionOpt] != time.Hour {
		t.Errorf("Expected retention 1h, got %v", values[asynq.RetentionOpt])
	}
}

func TestTaskOptions_NoMaxDuration(t *testing.T) {
	d := NewDispatcher(nil, nil, Options{})
	values := optionValues(d.TaskOptions("job-1"))

	if values[asynq.TimeoutOpt] != unboundedTimeout {
		t.Errorf("Expected unbounded timeout, got %v", values[asynq.TimeoutOpt])
	}
	if values[asynq.QueueOpt] != "training" {
		t.Errorf("Expected default queue, got %v", values[asynq.QueueOpt])
	}
	if _, ok := values[asynq.RetentionOpt]; ok {
		t.Error("Expected no retention option")
	}
}

// Enqueue and Cancel need a real Redis; DB 15 keeps them away from dev data.
func setupDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not available: %v", err)
	}
	rdb.Close()

	opt := asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		client.Close()
		inspector.Close()
	})

	return NewDispatcher(client, inspector, Options{Queue: "training-test", Retention: time.Minute})
}

func TestDispatcher_CancelPending(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	if err := d.Enqueue(ctx, jobID, testSpec()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	info, err := d.inspector.GetTaskInfo("training-test", jobID)
	if err != nil {
		t.Fatalf("GetTaskInfo failed: %v", err)
	}
	if info.State != asynq.TaskStatePending {
		t.Errorf("Expected pending task, got %v", info.State)
	}

	if err := d.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := d.inspector.GetTaskInfo("training-test", jobID); !errors.Is(err, asynq.ErrTaskNotFound) {
		t.Errorf("Expected task to be deleted, got %v", err)
	}

	// Cancelling again is a no-op
	if err := d.Cancel(ctx, jobID); err != nil {
		t.Errorf("Second Cancel failed: %v", err)
	}
}

func TestDispatcher_DuplicateID(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	jobID := uuid.New().String()
	t.Cleanup(func() { d.Cancel(ctx, jobID) })

	if err := d.Enqueue(ctx, jobID, testSpec()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := d.Enqueue(ctx, jobID, testSpec()); !errors.Is(err, asynq.ErrTaskIDConflict) {
		t.Errorf("Expected ErrTaskIDConflict, got %v", err)
	}
}
