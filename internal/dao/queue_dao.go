// Package dao exposes the sharded store through the engine-facing QueueDAO
// contract.
package dao

import (
	"context"
	"fmt"
	"shardq/internal/domain"
	"shardq/internal/infra/redisq"
	"shardq/internal/ports"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ ports.QueueDAO = (*QueueDAO)(nil)

var tracer = otel.Tracer("shardq/dao")

// Store is the subset of the sharded store the facade drives.
type Store interface {
	Push(ctx context.Context, queue string, msgs ...redisq.Message) error
	PushIfNotExists(ctx context.Context, queue string, msg redisq.Message) (bool, error)
	Pop(ctx context.Context, queue string, count int, wait time.Duration) ([]redisq.Message, error)
	Ack(ctx context.Context, queue, id string) (bool, error)
	SetUnackTimeout(ctx context.Context, queue, id string, timeout time.Duration) (bool, error)
	ResetOffsetTime(ctx context.Context, queue, id string) (bool, error)
	Remove(ctx context.Context, queue, id string) error
	Flush(ctx context.Context, queue string) error
	Size(ctx context.Context, queue string) (int64, error)
	Contains(ctx context.Context, queue, id string) (bool, error)
	Detail(ctx context.Context) (map[string]int64, error)
	DetailVerbose(ctx context.Context) (map[string]map[string]map[string]int64, error)
	ProcessUnacks(ctx context.Context, queue string) (int, error)
}

type QueueDAO struct {
	store      Store
	popTimeout time.Duration
}

// New wraps store. popTimeout is used when a caller passes a negative timeout.
func New(store Store, popTimeout time.Duration) *QueueDAO {
	return &QueueDAO{store: store, popTimeout: popTimeout}
}

func (d *QueueDAO) Push(ctx context.Context, queueName, id string, priority int, delay time.Duration) (err error) {
	ctx, span := start(ctx, "Push", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	msg, err := toWire(queueName, domain.Message{ID: id, Priority: priority, Delay: delay})
	if err != nil {
		return err
	}
	return d.store.Push(ctx, queueName, msg)
}

func (d *QueueDAO) PushMessages(ctx context.Context, queueName string, msgs []domain.Message) (err error) {
	ctx, span := start(ctx, "PushMessages", queueName, attribute.Int("messages", len(msgs)))
	defer func() { finish(span, err) }()

	wire := make([]redisq.Message, 0, len(msgs))
	for _, m := range msgs {
		w, err := toWire(queueName, m)
		if err != nil {
			return err
		}
		wire = append(wire, w)
	}
	if len(wire) == 0 {
		return nil
	}
	return d.store.Push(ctx, queueName, wire...)
}

func (d *QueueDAO) PushIfNotExists(ctx context.Context, queueName, id string, priority int, delay time.Duration) (ok bool, err error) {
	ctx, span := start(ctx, "PushIfNotExists", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	msg, err := toWire(queueName, domain.Message{ID: id, Priority: priority, Delay: delay})
	if err != nil {
		return false, err
	}
	return d.store.PushIfNotExists(ctx, queueName, msg)
}

func (d *QueueDAO) Pop(ctx context.Context, queueName string, count int, timeout time.Duration) ([]string, error) {
	msgs, err := d.PollMessages(ctx, queueName, count, timeout)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (d *QueueDAO) PollMessages(ctx context.Context, queueName string, count int, timeout time.Duration) (out []domain.Message, err error) {
	ctx, span := start(ctx, "PollMessages", queueName, attribute.Int("count", count))
	defer func() { finish(span, err) }()

	if err := checkQueue(queueName); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", domain.ErrInvalidArgument, count)
	}
	if timeout < 0 {
		timeout = d.popTimeout
	}

	wire, err := d.store.Pop(ctx, queueName, count, timeout)
	if err != nil {
		return nil, err
	}
	out = make([]domain.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, domain.Message{ID: w.ID, Payload: w.Payload, Priority: w.Priority})
	}
	span.SetAttributes(attribute.Int("returned", len(out)))
	return out, nil
}

func (d *QueueDAO) Ack(ctx context.Context, queueName, id string) (ok bool, err error) {
	ctx, span := start(ctx, "Ack", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	if err := checkID(queueName, id); err != nil {
		return false, err
	}
	return d.store.Ack(ctx, queueName, id)
}

func (d *QueueDAO) Remove(ctx context.Context, queueName, id string) (err error) {
	ctx, span := start(ctx, "Remove", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	if err := checkID(queueName, id); err != nil {
		return err
	}
	return d.store.Remove(ctx, queueName, id)
}

func (d *QueueDAO) SetUnackTimeout(ctx context.Context, queueName, id string, timeout time.Duration) (ok bool, err error) {
	ctx, span := start(ctx, "SetUnackTimeout", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	if err := checkID(queueName, id); err != nil {
		return false, err
	}
	if timeout < 0 {
		return false, fmt.Errorf("%w: negative unack timeout %s", domain.ErrInvalidArgument, timeout)
	}
	return d.store.SetUnackTimeout(ctx, queueName, id, timeout)
}

func (d *QueueDAO) ResetOffsetTime(ctx context.Context, queueName, id string) (ok bool, err error) {
	ctx, span := start(ctx, "ResetOffsetTime", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	if err := checkID(queueName, id); err != nil {
		return false, err
	}
	return d.store.ResetOffsetTime(ctx, queueName, id)
}

func (d *QueueDAO) Flush(ctx context.Context, queueName string) (err error) {
	ctx, span := start(ctx, "Flush", queueName)
	defer func() { finish(span, err) }()

	if err := checkQueue(queueName); err != nil {
		return err
	}
	return d.store.Flush(ctx, queueName)
}

func (d *QueueDAO) Size(ctx context.Context, queueName string) (n int64, err error) {
	ctx, span := start(ctx, "Size", queueName)
	defer func() { finish(span, err) }()

	if err := checkQueue(queueName); err != nil {
		return 0, err
	}
	return d.store.Size(ctx, queueName)
}

func (d *QueueDAO) ContainsMessage(ctx context.Context, queueName, id string) (ok bool, err error) {
	ctx, span := start(ctx, "ContainsMessage", queueName, attribute.String("message.id", id))
	defer func() { finish(span, err) }()

	if err := checkID(queueName, id); err != nil {
		return false, err
	}
	return d.store.Contains(ctx, queueName, id)
}

func (d *QueueDAO) QueuesDetail(ctx context.Context) (map[string]int64, error) {
	return d.store.Detail(ctx)
}

func (d *QueueDAO) QueuesDetailVerbose(ctx context.Context) (map[string]map[string]map[string]int64, error) {
	return d.store.DetailVerbose(ctx)
}

func (d *QueueDAO) ProcessUnacks(ctx context.Context, queueName string) (n int, err error) {
	ctx, span := start(ctx, "ProcessUnacks", queueName)
	defer func() { finish(span, err) }()

	if err := checkQueue(queueName); err != nil {
		return 0, err
	}
	return d.store.ProcessUnacks(ctx, queueName)
}

// toWire validates an engine message and converts it to its stored form.
// Out-of-range priorities are rejected, PriorityUnset selects the default.
func toWire(queueName string, m domain.Message) (redisq.Message, error) {
	if err := checkID(queueName, m.ID); err != nil {
		return redisq.Message{}, err
	}

	prio := m.Priority
	if prio == domain.PriorityUnset {
		prio = domain.DefaultPriority
	}
	if !domain.ValidPriority(prio) {
		return redisq.Message{}, fmt.Errorf("%w: priority %d outside [%d,%d]",
			domain.ErrInvalidArgument, m.Priority, domain.MinPriority, domain.MaxPriority)
	}

	return redisq.Message{ID: m.ID, Payload: m.Payload, Priority: prio, Delay: m.Delay}, nil
}

func checkQueue(queueName string) error {
	if queueName == "" {
		return fmt.Errorf("%w: queue name is required", domain.ErrInvalidArgument)
	}
	return nil
}

func checkID(queueName, id string) error {
	if err := checkQueue(queueName); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrInvalidArgument)
	}
	return nil
}

func start(ctx context.Context, op, queueName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("queue", queueName))
	return tracer.Start(ctx, "QueueDAO."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
