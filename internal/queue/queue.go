package queue

import "context"

const (
	// DispatchQueue carries one job per batch dispatch request.
	DispatchQueue = "dispatch.batches"
	// DispatchDLQ receives jobs that failed on redelivery or could not be decoded.
	DispatchDLQ = "dlq.dispatch.batches"

	dispatchRoutingKey = "dispatch.batches"
)

// Publisher publishes dispatch jobs.
type Publisher interface {
	Publish(ctx context.Context, job DispatchJob) error
	Close() error
}

// JobHandler handles a consumed dispatch job.
type JobHandler func(ctx context.Context, job DispatchJob) error

// Consumer consumes dispatch jobs until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}
