package usecase

import (
	"context"
	"errors"
	"shardq/internal/domain"
	"shardq/internal/ports"
	"shardq/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
)

// maxTrackedFailures bounds the per-id failure counts kept between polls.
// Ids redelivered to other workers are never seen again here.
const maxTrackedFailures = 10_000

type Handler func(ctx context.Context, m domain.Message) error

// Consumer leases batches from one queue and acks what the handler accepts.
// A failed message keeps its lease for a backoff delay and is then handed
// back by the reaper.
type Consumer struct {
	Q           ports.QueueDAO
	Queue       string
	Batch       int
	PollTimeout time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	failures map[string]int
}

func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	errs := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := c.Process(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs++
			pause := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, errs)
			log.Ctx(ctx).Warn().Err(err).Str("queue", c.Queue).Dur("retry_in", pause).Msg("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
			continue
		}
		errs = 0
	}
}

// Process runs one poll and hands every message to handle. It returns the
// number of messages acked.
func (c *Consumer) Process(ctx context.Context, handle Handler) (int, error) {
	if c.failures == nil || len(c.failures) > maxTrackedFailures {
		c.failures = make(map[string]int)
	}

	msgs, err := c.Q.PollMessages(ctx, c.Queue, max(c.Batch, 1), c.PollTimeout)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, m := range msgs {
		herr := handle(ctx, m)
		if herr == nil {
			delete(c.failures, m.ID)
			ok, err := c.Q.Ack(ctx, c.Queue, m.ID)
			if err != nil {
				return acked, err
			}
			if ok {
				acked++
			} else {
				log.Ctx(ctx).Warn().Str("queue", c.Queue).Str("id", m.ID).Msg("lease expired before ack")
			}
			continue
		}

		c.failures[m.ID]++
		delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, c.failures[m.ID])
		log.Ctx(ctx).Error().Err(herr).
			Str("queue", c.Queue).
			Str("id", m.ID).
			Int("failures", c.failures[m.ID]).
			Dur("redeliver_in", delay).
			Msg("handler failed")

		ok, err := c.Q.SetUnackTimeout(ctx, c.Queue, m.ID, delay)
		if err != nil && !errors.Is(err, context.Canceled) {
			return acked, err
		}
		if err == nil && !ok {
			// no longer leased here, so another worker owns its retries
			delete(c.failures, m.ID)
		}
	}
	return acked, nil
}
