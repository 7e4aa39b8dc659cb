package redisq

import "strings"

// shardKeys are the five keys backing one shard of one queue. The shared
// hash tag keeps them in one cluster slot.
type shardKeys struct {
	ready   string // zset, score (99-priority)*1e13 + visible_at
	delayed string // zset, score visible_at
	unack   string // zset, score delivery deadline
	meta    string // hash, id -> priority
	payload string // hash, id -> payload
}

func (s *Store) keys(queue, shardID string) shardKeys {
	tag := "{" + nsKey(s.opts.Prefix, queue, shardID) + "}"
	return shardKeys{
		ready:   tag + ".ready",
		delayed: tag + ".delayed",
		unack:   tag + ".unack",
		meta:    tag + ".meta",
		payload: tag + ".payload",
	}
}

// all is the KEYS layout every script expects.
func (k shardKeys) all() []string {
	return []string{k.ready, k.delayed, k.unack, k.meta, k.payload}
}

func (s *Store) registryKey() string {
	return nsKey(s.opts.Prefix, "queues")
}

func nsKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
