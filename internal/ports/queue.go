package ports

import (
	"context"
	"shardq/internal/domain"
	"time"
)

// QueueDAO is the queue contract the workflow engine depends on. Missing ids
// and empty pops are normal outcomes reported as false or an empty slice;
// errors mean invalid arguments or an unavailable backend.
type QueueDAO interface {
	Push(ctx context.Context, queueName, id string, priority int, delay time.Duration) error
	PushMessages(ctx context.Context, queueName string, msgs []domain.Message) error
	PushIfNotExists(ctx context.Context, queueName, id string, priority int, delay time.Duration) (bool, error)

	Pop(ctx context.Context, queueName string, count int, timeout time.Duration) ([]string, error)
	PollMessages(ctx context.Context, queueName string, count int, timeout time.Duration) ([]domain.Message, error)

	Ack(ctx context.Context, queueName, id string) (bool, error)
	Remove(ctx context.Context, queueName, id string) error
	SetUnackTimeout(ctx context.Context, queueName, id string, timeout time.Duration) (bool, error)
	ResetOffsetTime(ctx context.Context, queueName, id string) (bool, error)

	Flush(ctx context.Context, queueName string) error
	Size(ctx context.Context, queueName string) (int64, error)
	ContainsMessage(ctx context.Context, queueName, id string) (bool, error)
	QueuesDetail(ctx context.Context) (map[string]int64, error)
	QueuesDetailVerbose(ctx context.Context) (map[string]map[string]map[string]int64, error)

	ProcessUnacks(ctx context.Context, queueName string) (int, error)
}

type Reaper interface {
	// requeues expired leases until ctx is done
	Run(ctx context.Context) error
}
