// Package registry stores training job records in Redis. Each record lives
// under a single key and every mutation is an optimistic single-key
// transaction, so concurrent writers never overwrite a terminal state.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/model"
)

const maxTxRetries = 8

// ErrConflict is returned when a transaction kept losing the optimistic lock
var ErrConflict = errors.New("registry: too many concurrent updates")

// Registry is the Redis-backed job store
type Registry struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a registry whose records expire after ttl
func New(redisClient *redis.Client, ttl time.Duration) *Registry {
	return &Registry{redis: redisClient, ttl: ttl}
}

func key(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Create stores a new record. It fails if the id is already taken.
func (r *Registry) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := r.redis.SetNX(ctx, key(job.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// Get returns the current record or an apperrors.ErrNotFound error
func (r *Registry) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return r.get(ctx, r.redis, jobID)
}

// Delete removes a record
func (r *Registry) Delete(ctx context.Context, jobID string) error {
	return r.redis.Del(ctx, key(jobID)).Err()
}

// Update applies fn to the record inside a WATCH/MULTI transaction and
// returns the stored result. If fn returns an error nothing is written and
// the error is returned unchanged.
func (r *Registry) Update(ctx context.Context, jobID string, fn func(job *model.Job) error) (*model.Job, error) {
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		job, err := r.get(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(jobID), data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.redis.Watch(ctx, txf, key(jobID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return updated, err
	}
	return nil, ErrConflict
}

// Apply records ev on the job. It returns apperrors.ErrAlreadyTerminal when
// the stored record is already terminal, which makes the caller that wins
// the terminal transition the only one allowed to publish a terminal event.
func (r *Registry) Apply(ctx context.Context, ev model.Event) (*model.Job, error) {
	return r.Update(ctx, ev.JobID, func(job *model.Job) error {
		if job.State.Terminal() {
			return apperrors.AlreadyTerminal(job.ID, job.State)
		}
		return job.Apply(ev)
	})
}

// Ping checks the Redis connection
func (r *Registry) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Registry) get(ctx context.Context, c getter, jobID string) (*model.Job, error) {
	data, err := c.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound(jobID)
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}
