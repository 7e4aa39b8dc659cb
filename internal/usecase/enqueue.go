package usecase

import (
	"context"
	"shardq/internal/domain"
	"shardq/internal/ports"
	"time"

	"github.com/google/uuid"
)

type Enqueuer struct {
	Q ports.QueueDAO
}

// Now makes m visible immediately. An empty id is replaced by a random one.
func (e Enqueuer) Now(ctx context.Context, queue string, m domain.Message) (string, error) {
	m.Delay = 0
	return e.push(ctx, queue, m)
}

// After makes m visible once delay has passed.
func (e Enqueuer) After(ctx context.Context, queue string, m domain.Message, delay time.Duration) (string, error) {
	m.Delay = max(delay, 0)
	return e.push(ctx, queue, m)
}

// At makes m visible at runAt; a time in the past means now.
func (e Enqueuer) At(ctx context.Context, queue string, m domain.Message, runAt time.Time) (string, error) {
	return e.After(ctx, queue, m, time.Until(runAt))
}

// Once enqueues id unless it is already present in any state.
func (e Enqueuer) Once(ctx context.Context, queue, id string, priority int) (bool, error) {
	return e.Q.PushIfNotExists(ctx, queue, id, priority, 0)
}

func (e Enqueuer) push(ctx context.Context, queue string, m domain.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := e.Q.PushMessages(ctx, queue, []domain.Message{m}); err != nil {
		return "", err
	}
	return m.ID, nil
}
