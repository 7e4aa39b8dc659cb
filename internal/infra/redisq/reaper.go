package redisq

import (
	"context"
	"shardq/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Reaper = (*Reaper)(nil)

// Reaper periodically returns expired leases to the ready set for every
// registered queue. Several processes may run one against the same backend.
type Reaper struct {
	S        *Store
	Interval time.Duration
}

func NewReaper(s *Store, interval time.Duration) *Reaper {
	return &Reaper{S: s, Interval: interval}
}

func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.S.clock.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		r.ReapOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// ReapOnce runs one pass over all queues and returns the number requeued.
// Failures are logged and the pass moves on to the next queue.
func (r *Reaper) ReapOnce(ctx context.Context) int {
	queues, err := r.S.Queues(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Ctx(ctx).Error().Err(err).Msg("reaper could not list queues")
		}
		return 0
	}

	total := 0
	for _, q := range queues {
		n, err := r.S.ProcessUnacks(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				log.Ctx(ctx).Error().Err(err).Str("queue", q).Msg("reaper pass failed")
			}
			continue
		}
		if n > 0 {
			log.Ctx(ctx).Debug().Str("queue", q).Int("requeued", n).Msg("expired leases requeued")
		}
		total += n
	}
	return total
}
