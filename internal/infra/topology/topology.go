// Package topology builds the redis client handles for each deployment mode.
// Every Configurator hands back the same shape, a write client, a read client
// and a host supplier, so the queue store never branches on the mode.
package topology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"shardq/internal/config"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// HostSupplier reports the backend hosts currently known to the topology.
type HostSupplier interface {
	Hosts(ctx context.Context) ([]shard.Host, error)
}

// Handles is the result of configuring a topology.
type Handles struct {
	Write redis.UniversalClient
	Read  redis.UniversalClient
	Hosts HostSupplier
	// Strategy is the sharding strategy the mode defaults to.
	Strategy string
	// Options overrides shard sizing for modes that impose their own layout.
	Shards *shard.Options

	closers []io.Closer
}

// NewHandles assembles Handles; closers run in order on Close.
func NewHandles(write, read redis.UniversalClient, hosts HostSupplier, closers ...io.Closer) *Handles {
	return &Handles{Write: write, Read: read, Hosts: hosts, closers: closers}
}

func (h *Handles) Close() error {
	var errs []error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Configurator is implemented once per deployment mode.
type Configurator interface {
	Mode() string
	Configure(ctx context.Context, cfg *config.Config) (*Handles, error)
}

var registry = map[string]func() Configurator{
	config.ModeStandalone:  func() Configurator { return standalone{} },
	config.ModeCluster:     func() Configurator { return cluster{} },
	config.ModeSentinel:    func() Configurator { return sentinel{} },
	config.ModeMultiRegion: func() Configurator { return multiRegion{} },
	config.ModeMemory:      func() Configurator { return memory{} },
}

// Lookup resolves the configurator registered for mode.
func Lookup(mode string) (Configurator, error) {
	ctor, ok := registry[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no topology registered for mode %q", domain.ErrConfiguration, mode)
	}
	return ctor(), nil
}

// Open configures the topology selected by cfg and verifies both handles
// answer a ping.
func Open(ctx context.Context, cfg *config.Config) (*Handles, error) {
	c, err := Lookup(cfg.Redis.Mode)
	if err != nil {
		return nil, err
	}

	h, err := c.Configure(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for name, cli := range map[string]redis.UniversalClient{"write": h.Write, "read": h.Read} {
		if err := cli.Ping(ctx).Err(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("%w: %s client ping: %v", domain.ErrBackendUnavailable, name, err)
		}
	}

	log.Ctx(ctx).Info().
		Str("mode", c.Mode()).
		Str("strategy", h.Strategy).
		Msg("queue topology ready")

	return h, nil
}

// StaticHosts is a fixed host list, every host reported up.
type StaticHosts []shard.Host

func (s StaticHosts) Hosts(context.Context) ([]shard.Host, error) {
	out := make([]shard.Host, len(s))
	copy(out, s)
	return out, nil
}

func hostsFromSpecs(specs []config.HostSpec) StaticHosts {
	out := make(StaticHosts, 0, len(specs))
	for _, s := range specs {
		out = append(out, shard.Host{Addr: s.Addr, Rack: s.Rack, Up: true})
	}
	return out
}

func addrs(specs []config.HostSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Addr)
	}
	return out
}
