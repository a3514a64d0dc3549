package model

// StatusMessage is the envelope returned by the status endpoint and pushed
// to WebSocket clients
type StatusMessage struct {
	TaskID       string             `json:"task_id"`
	Status       JobState           `json:"status"`
	Epoch        *int               `json:"epoch,omitempty"`
	Logs         map[string]float64 `json:"logs,omitempty"`
	TestAccuracy *float64           `json:"test_accuracy,omitempty"`
	TestLoss     *float64           `json:"test_loss,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// StatusFromJob renders a registry snapshot
func StatusFromJob(job *Job) StatusMessage {
	msg := StatusMessage{TaskID: job.ID, Status: job.State}
	switch job.State {
	case JobStateProgress:
		msg.withProgress(job.Progress)
	case JobStateSuccess:
		msg.withResult(job.Result)
	case JobStateFailure:
		if job.Error != nil {
			msg.Message = job.Error.Message
		}
	}
	return msg
}

// StatusFromEvent renders a bus event
func StatusFromEvent(ev Event) StatusMessage {
	msg := StatusMessage{TaskID: ev.JobID, Status: ev.Type.State()}
	switch ev.Type {
	case EventTypeProgress:
		msg.withProgress(ev.Progress)
	case EventTypeSuccess:
		msg.withResult(ev.Result)
	case EventTypeFailure:
		if ev.Error != nil {
			msg.Message = ev.Error.Message
		}
	}
	return msg
}

func (m *StatusMessage) withProgress(p *Progress) {
	if p == nil {
		return
	}
	epoch := p.Epoch
	m.Epoch = &epoch
	m.Logs = p.Metrics
}

func (m *StatusMessage) withResult(r *Result) {
	if r == nil {
		return
	}
	acc, loss := r.Accuracy, r.Loss
	m.TestAccuracy = &acc
	m.TestLoss = &loss
}

// SubmitResponse is returned by POST /train
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// CancelResponse is returned by POST /cancel
type CancelResponse struct {
	Status string `json:"status"`
}
