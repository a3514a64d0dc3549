// Package trainer runs the numerical training routine for a job.
package trainer

import (
	"context"
	"hash/fnv"
	"log"
	"math"
	"time"

	"github.com/modeltrainer/api/internal/model"
)

// Reporter receives one Progress value per completed epoch
type Reporter func(p model.Progress)

// Trainer trains a model for spec, calling report after every epoch. It
// must observe ctx between epochs and return ctx.Err() once it ends.
type Trainer interface {
	Train(ctx context.Context, spec model.JobSpec, report Reporter) (*model.Result, error)
}

// Simulated is a Trainer that produces a plausible learning curve without
// doing any numerical work. Each epoch takes EpochDelay.
type Simulated struct {
	EpochDelay time.Duration
}

// NewSimulated creates a simulated trainer
func NewSimulated(epochDelay time.Duration) *Simulated {
	return &Simulated{EpochDelay: epochDelay}
}

// Train implements Trainer
func (s *Simulated) Train(ctx context.Context, spec model.JobSpec, report Reporter) (*model.Result, error) {
	log.Printf("Training model with layers=%d, units=%v, epochs=%d, batch_size=%d, optimizer=%s",
		spec.LayerCount, spec.Units, spec.Epochs, spec.BatchSize, spec.Optimizer)

	curve := newCurve(spec)
	for epoch := 1; epoch <= spec.Epochs; epoch++ {
		if err := s.sleep(ctx); err != nil {
			return nil, err
		}

		acc, loss := curve.at(epoch)
		valAcc, valLoss := curve.validation(epoch)
		report(model.Progress{
			Epoch: epoch,
			Metrics: map[string]float64{
				"accuracy":     acc,
				"loss":         loss,
				"val_accuracy": valAcc,
				"val_loss":     valLoss,
			},
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, loss := curve.validation(spec.Epochs)
	return &model.Result{Accuracy: acc, Loss: loss}, nil
}

func (s *Simulated) sleep(ctx context.Context) error {
	if s.EpochDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.EpochDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// curve is a saturating accuracy curve whose ceiling and rate depend on
// the hyperparameters, with a small deterministic per-spec jitter.
type curve struct {
	ceiling float64
	rate    float64
	jitter  float64
}

func newCurve(spec model.JobSpec) curve {
	capacity := 0.0
	for _, u := range spec.Units {
		capacity += math.Log2(float64(u) + 1)
	}
	ceiling := 0.45 + 0.35*(1-math.Exp(-capacity/12))

	rate := 0.25
	switch spec.Optimizer {
	case model.OptimizerAdam:
		rate = 0.45
	case model.OptimizerRMSprop:
		rate = 0.35
	}
	// smaller batches take more steps per epoch
	rate *= 1 + 32/float64(spec.BatchSize+32)

	h := fnv.New32a()
	for _, u := range spec.Units {
		h.Write([]byte{byte(u), byte(u >> 8)})
	}
	h.Write([]byte(spec.Optimizer))
	jitter := float64(h.Sum32()%1000)/1000*0.04 - 0.02

	return curve{ceiling: ceiling, rate: rate, jitter: jitter}
}

func (c curve) at(epoch int) (accuracy, loss float64) {
	accuracy = 0.1 + (c.ceiling-0.1)*(1-math.Exp(-c.rate*float64(epoch)))
	loss = -math.Log(accuracy) * 1.1
	return round(accuracy), round(loss)
}

func (c curve) validation(epoch int) (accuracy, loss float64) {
	acc, _ := c.at(epoch)
	acc = math.Min(math.Max(acc-0.03+c.jitter, 0.1), 1)
	return round(acc), round(-math.Log(acc) * 1.2)
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
