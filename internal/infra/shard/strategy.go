package shard

import (
	"fmt"
	"shardq/internal/domain"
	"slices"
	"sync/atomic"
)

// Strategy picks the shard a push lands on and the order a pop drains
// shards in. PushShard must depend only on the Map and the id so that
// processes with different local shards agree on where an id lives.
type Strategy interface {
	Name() string
	PushShard(m *Map, queue, id string) string
	PopShards(m *Map, queue string) []string
}

const (
	LocalAffinity = "local"
	RoundRobin    = "round_robin"
)

// NewStrategy resolves a strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case LocalAffinity:
		return localAffinity{}, nil
	case RoundRobin:
		return &roundRobin{}, nil
	}
	return nil, fmt.Errorf("%w: unknown sharding strategy %q", domain.ErrConfiguration, name)
}

// localAffinity drains the local shard first, falling back to the remaining
// shards in sorted order. Pushes go to the id's home shard.
type localAffinity struct{}

func (localAffinity) Name() string { return LocalAffinity }

func (localAffinity) PushShard(m *Map, queue, id string) string { return m.Home(queue, id) }

func (localAffinity) PopShards(m *Map, _ string) []string {
	out := make([]string, 0, len(m.shards))
	out = append(out, m.local)
	for _, id := range m.shards {
		if id != m.local {
			out = append(out, id)
		}
	}
	return out
}

// roundRobin ignores locality: pushes go to the id's home shard and each pop
// starts one shard further along than the previous one.
type roundRobin struct {
	next atomic.Uint64
}

func (*roundRobin) Name() string { return RoundRobin }

func (*roundRobin) PushShard(m *Map, queue, id string) string { return m.Home(queue, id) }

func (r *roundRobin) PopShards(m *Map, _ string) []string {
	shards := m.shards
	start := int((r.next.Add(1) - 1) % uint64(len(shards)))
	return append(slices.Clone(shards[start:]), shards[:start]...)
}
