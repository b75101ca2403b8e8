package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DispatchJob asks a worker to run the dispatch loop for one batch.
type DispatchJob struct {
	BatchID     string    `json:"batchId"`
	RequestID   string    `json:"requestId,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (j DispatchJob) Validate() error {
	if strings.TrimSpace(j.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}

func decodeJob(body []byte) (DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return DispatchJob{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := job.Validate(); err != nil {
		return DispatchJob{}, err
	}
	return job, nil
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

// dispositionFor decides what happens to a delivery after the handler ran.
// A failing job gets one redelivery before it is dead-lettered. A job
// interrupted by shutdown always goes back to the queue.
func dispositionFor(handlerErr error, redelivered bool) disposition {
	switch {
	case handlerErr == nil:
		return dispositionAck
	case errors.Is(handlerErr, context.Canceled):
		return dispositionRequeue
	case redelivered:
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}
