package model

import "time"

// Event is a lifecycle notification about one job. Exactly one of
// Progress, Result and Error is set, matching Type; REVOKED carries none.
type Event struct {
	JobID     string    `json:"job_id"`
	Type      EventType `json:"type"`
	Progress  *Progress `json:"progress,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     *JobError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewProgressEvent builds a PROGRESS event. The metrics map is copied so the
// event cannot be mutated by the trainer after emission.
func NewProgressEvent(jobID string, p Progress) Event {
	metrics := make(map[string]float64, len(p.Metrics))
	for k, v := range p.Metrics {
		metrics[k] = v
	}
	return Event{
		JobID:     jobID,
		Type:      EventTypeProgress,
		Progress:  &Progress{Epoch: p.Epoch, Metrics: metrics},
		Timestamp: time.Now(),
	}
}

// NewSuccessEvent builds a SUCCESS event
func NewSuccessEvent(jobID string, r Result) Event {
	return Event{
		JobID:     jobID,
		Type:      EventTypeSuccess,
		Result:    &r,
		Timestamp: time.Now(),
	}
}

// NewFailureEvent builds a FAILURE event
func NewFailureEvent(jobID, message string) Event {
	return Event{
		JobID:     jobID,
		Type:      EventTypeFailure,
		Error:     &JobError{Message: message},
		Timestamp: time.Now(),
	}
}

// NewRevokedEvent builds a REVOKED event
func NewRevokedEvent(jobID string) Event {
	return Event{
		JobID:     jobID,
		Type:      EventTypeRevoked,
		Timestamp: time.Now(),
	}
}
