// Package shard maps backend hosts onto queue shards and decides which shard
// a push lands on and which shards a pop drains.
package shard

import (
	"fmt"
	"shardq/internal/domain"
	"slices"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Host is a backend node as reported by a topology's host supplier.
type Host struct {
	Addr string
	Rack string
	Up   bool
}

// Token ties a live host to its position in discovery order.
type Token struct {
	Host  string
	Value int64
}

type Options struct {
	// Region is stripped from racks to form shard ids.
	Region string
	// Count > 0 switches to synthetic shards "a", "b", ... instead of racks.
	Count int
	Local string
}

// Map is an immutable snapshot of shard membership. A new Map is built on
// every membership change; existing Maps are never mutated.
type Map struct {
	shards []string
	local  string
	tokens []Token
	owners map[string]string

	rackDerived bool
	fingerprint string
	home        *rendezvous.Rendezvous
}

// Build computes a Map from the discovered hosts.
func Build(hosts []Host, opts Options) (*Map, error) {
	m := &Map{owners: make(map[string]string)}

	if opts.Count > 0 {
		for i := 0; i < opts.Count; i++ {
			m.shards = append(m.shards, Name(i))
		}
	} else {
		m.rackDerived = true
		seen := make(map[string]bool)
		for _, h := range hosts {
			id := shardOfRack(h.Rack, opts.Region)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			m.shards = append(m.shards, id)
		}
		sort.Strings(m.shards)
	}
	if len(m.shards) == 0 {
		return nil, fmt.Errorf("%w: no shards could be derived from %d hosts", domain.ErrConfiguration, len(hosts))
	}

	m.local = opts.Local
	if m.local == "" {
		m.local = m.shards[0]
	}
	if !slices.Contains(m.shards, m.local) {
		return nil, fmt.Errorf("%w: local shard %q not in shard set %v", domain.ErrConfiguration, m.local, m.shards)
	}

	// Live hosts get tokens N..1 in discovery order.
	var live []Host
	for _, h := range hosts {
		if h.Up {
			live = append(live, h)
		}
	}
	addrs := make([]string, 0, len(live))
	for i, h := range live {
		m.tokens = append(m.tokens, Token{Host: h.Addr, Value: int64(len(live) - i)})
		addrs = append(addrs, h.Addr)
	}

	if m.rackDerived {
		for _, h := range live {
			id := shardOfRack(h.Rack, opts.Region)
			if _, ok := m.owners[id]; !ok && id != "" {
				m.owners[id] = h.Addr
			}
		}
	} else if len(addrs) > 0 {
		ring := rendezvous.New(addrs, xxhash.Sum64String)
		for _, id := range m.shards {
			m.owners[id] = ring.Lookup(id)
		}
	}

	m.home = rendezvous.New(m.shards, xxhash.Sum64String)
	m.fingerprint = fingerprint(hosts, opts)

	return m, nil
}

// Name returns the synthetic id of the i-th shard.
func Name(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("s%d", i)
}

// Shards returns the sorted shard ids.
func (m *Map) Shards() []string { return slices.Clone(m.shards) }

func (m *Map) Local() string { return m.local }

func (m *Map) Tokens() []Token { return slices.Clone(m.tokens) }

// TokenFor returns the token assigned to addr, if it is live.
func (m *Map) TokenFor(addr string) (int64, bool) {
	for _, t := range m.tokens {
		if t.Host == addr {
			return t.Value, true
		}
	}
	return 0, false
}

// Owner returns the live host currently owning a shard.
func (m *Map) Owner(shard string) (string, bool) {
	h, ok := m.owners[shard]
	return h, ok
}

// Home is the deterministic shard for a message id in a queue.
func (m *Map) Home(queue, id string) string {
	return m.home.Lookup(queue + "\x00" + id)
}

// Same reports whether o was built from the same membership.
func (m *Map) Same(o *Map) bool {
	return o != nil && m.fingerprint == o.fingerprint
}

// Moved lists the shards whose owner differs between m and next.
func (m *Map) Moved(next *Map) []string {
	var moved []string
	for _, id := range next.shards {
		if m.owners[id] != next.owners[id] {
			moved = append(moved, id)
		}
	}
	return moved
}

func shardOfRack(rack, region string) string {
	if region == "" {
		return rack
	}
	if s := strings.TrimPrefix(rack, region); s != "" {
		return s
	}
	return rack
}

func fingerprint(hosts []Host, opts Options) string {
	parts := make([]string, 0, len(hosts)+1)
	parts = append(parts, fmt.Sprintf("%s|%d|%s", opts.Region, opts.Count, opts.Local))
	for _, h := range hosts {
		parts = append(parts, fmt.Sprintf("%s|%s|%t", h.Addr, h.Rack, h.Up))
	}
	return strings.Join(parts, ",")
}
