package model

import "strings"

// TrainRequest represents the body of POST /train
type TrainRequest struct {
	Layers    *int   `json:"layers" validate:"required,min=1,max=3"`
	Units     []int  `json:"units" validate:"required,min=1,max=3,dive,min=1,max=1024"`
	Epochs    *int   `json:"epochs" validate:"required,min=0,max=200"`
	BatchSize *int   `json:"batchSize" validate:"required,min=1,max=512"`
	Optimizer string `json:"optimizer" validate:"required,optimizer"`
}

// Normalize lower-cases the optimizer name before validation
func (r *TrainRequest) Normalize() {
	r.Optimizer = strings.ToLower(strings.TrimSpace(r.Optimizer))
}

// Spec converts a validated request into a JobSpec
func (r *TrainRequest) Spec() JobSpec {
	units := make([]int, len(r.Units))
	copy(units, r.Units)
	return JobSpec{
		LayerCount: *r.Layers,
		Units:      units,
		Epochs:     *r.Epochs,
		BatchSize:  *r.BatchSize,
		Optimizer:  Optimizer(r.Optimizer),
	}
}

// CancelRequest represents the body of POST /cancel
type CancelRequest struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
}
