package redisq

import (
	"context"
	"shardq/internal/infra/shard"

	"github.com/rs/zerolog/log"
)

func (s *Store) watchMembership(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
		if err := s.RefreshShards(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).Warn().Err(err).Msg("shard membership refresh failed, keeping current map")
		}
	}
}

// RefreshShards rediscovers hosts and swaps in a new shard map if the
// membership changed.
func (s *Store) RefreshShards(ctx context.Context) error {
	hosts, err := s.handles.Hosts.Hosts(ctx)
	if err != nil {
		return err
	}
	next, err := shard.Build(hosts, s.opts.Shards)
	if err != nil {
		return err
	}

	cur := s.shards.Load()
	if cur.Same(next) {
		return nil
	}
	moved := cur.Moved(next)
	s.shards.Store(next)
	mOwnershipChanges.Add(float64(len(moved)))

	log.Ctx(ctx).Info().
		Strs("shards", next.Shards()).
		Strs("moved", moved).
		Int("live_hosts", len(next.Tokens())).
		Msg("shard membership changed")
	return nil
}
