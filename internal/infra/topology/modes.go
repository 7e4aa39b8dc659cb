package topology

import (
	"context"
	"fmt"
	"net"
	"shardq/internal/config"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// standalone talks to one node; reads and writes share the client.
type standalone struct{}

func (standalone) Mode() string { return config.ModeStandalone }

func (standalone) Configure(_ context.Context, cfg *config.Config) (*Handles, error) {
	specs, err := cfg.HostSpecs()
	if err != nil {
		return nil, err
	}

	cli := redis.NewClient(&redis.Options{
		Addr:        specs[0].Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	h := NewHandles(cli, cli, hostsFromSpecs(specs[:1]), cli)
	h.Strategy = shard.LocalAffinity
	return h, nil
}

// cluster uses hash-slot routing; the read client may be served by replicas.
type cluster struct{}

func (cluster) Mode() string { return config.ModeCluster }

func (cluster) Configure(_ context.Context, cfg *config.Config) (*Handles, error) {
	specs, err := cfg.HostSpecs()
	if err != nil {
		return nil, err
	}

	opts := &redis.ClusterOptions{
		Addrs:       addrs(specs),
		Password:    cfg.Redis.Password,
		DialTimeout: cfg.Redis.DialTimeout,
	}
	write := redis.NewClusterClient(opts)

	readOpts := *opts
	readOpts.ReadOnly = true
	readOpts.RouteByLatency = true
	read := redis.NewClusterClient(&readOpts)

	h := NewHandles(write, read, &clusterHosts{client: write, specs: specs}, write, read)
	h.Strategy = shard.RoundRobin
	return h, nil
}

// slotSource is the part of a cluster client clusterHosts reads.
type slotSource interface {
	ClusterSlots(ctx context.Context) *redis.ClusterSlotsCmd
}

// clusterHosts reports every configured node, marked up while the slot table
// lists it. The shard set therefore never shrinks on failover. Masters that
// were never configured follow as rackless hosts.
type clusterHosts struct {
	client slotSource
	specs  []config.HostSpec
}

func (c *clusterHosts) Hosts(ctx context.Context) ([]shard.Host, error) {
	slots, err := c.client.ClusterSlots(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: cluster slots: %v", domain.ErrBackendUnavailable, err)
	}

	listed := make(map[string]bool)
	var masters []string
	for _, s := range slots {
		for i, n := range s.Nodes {
			if i == 0 && !listed[n.Addr] {
				masters = append(masters, n.Addr)
			}
			listed[n.Addr] = true
		}
	}

	known := make(map[string]bool)
	out := make([]shard.Host, 0, len(c.specs)+len(masters))
	for _, s := range c.specs {
		up := false
		for _, addr := range resolveAddr(ctx, s.Addr) {
			known[addr] = true
			up = up || listed[addr]
		}
		out = append(out, shard.Host{Addr: s.Addr, Rack: s.Rack, Up: up})
	}
	for _, addr := range masters {
		if !known[addr] {
			out = append(out, shard.Host{Addr: addr, Up: true})
		}
	}
	return out, nil
}

// resolveAddr returns addr plus one host:port per address its host resolves
// to. Cluster nodes report themselves by IP while configs often use names.
func resolveAddr(ctx context.Context, addr string) []string {
	out := []string{addr}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) != nil {
		return out
	}
	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return out
	}
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, port))
	}
	return out
}

// sentinel writes to the current primary and reads from replicas, both
// rediscovered through the sentinels on failover.
type sentinel struct{}

func (sentinel) Mode() string { return config.ModeSentinel }

func (sentinel) Configure(_ context.Context, cfg *config.Config) (*Handles, error) {
	specs, err := cfg.HostSpecs()
	if err != nil {
		return nil, err
	}

	opts := &redis.FailoverOptions{
		MasterName:    cfg.Redis.MasterName,
		SentinelAddrs: addrs(specs),
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		DialTimeout:   cfg.Redis.DialTimeout,
	}
	write := redis.NewFailoverClient(opts)

	readOpts := *opts
	readOpts.ReplicaOnly = true
	read := redis.NewFailoverClusterClient(&readOpts)

	sc := redis.NewSentinelClient(&redis.Options{
		Addr:        specs[0].Addr,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	hosts := &sentinelHosts{
		client: sc,
		master: cfg.Redis.MasterName,
		rack:   cfg.Redis.AvailabilityZone,
	}
	h := NewHandles(write, read, hosts, write, read, sc)
	h.Strategy = shard.LocalAffinity
	return h, nil
}

// sentinelHosts reports the primary followed by its replicas. Every node
// carries the full dataset, so all of them sit in the local rack.
type sentinelHosts struct {
	client *redis.SentinelClient
	master string
	rack   string
}

func (s *sentinelHosts) Hosts(ctx context.Context) ([]shard.Host, error) {
	addr, err := s.client.GetMasterAddrByName(ctx, s.master).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: sentinel master lookup: %v", domain.ErrBackendUnavailable, err)
	}
	if len(addr) != 2 {
		return nil, fmt.Errorf("%w: sentinel returned master address %v", domain.ErrBackendUnavailable, addr)
	}
	out := []shard.Host{{Addr: net.JoinHostPort(addr[0], addr[1]), Rack: s.rack, Up: true}}

	replicas, err := s.client.Replicas(ctx, s.master).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: sentinel replicas: %v", domain.ErrBackendUnavailable, err)
	}
	for _, r := range replicas {
		out = append(out, shard.Host{
			Addr: net.JoinHostPort(r["ip"], r["port"]),
			Rack: s.rack,
			Up:   r["flags"] == "slave",
		})
	}
	return out, nil
}

// multiRegion writes to and reads from the local region's endpoint. Other
// regions catch up through backend replication, so reads may be stale.
type multiRegion struct{}

func (multiRegion) Mode() string { return config.ModeMultiRegion }

func (multiRegion) Configure(_ context.Context, cfg *config.Config) (*Handles, error) {
	specs, err := cfg.HostSpecs()
	if err != nil {
		return nil, err
	}
	local, ok := cfg.LocalRegionHost(specs)
	if !ok {
		return nil, fmt.Errorf("%w: no host in region %q", domain.ErrConfiguration, cfg.Redis.Region)
	}

	cli := redis.NewClient(&redis.Options{
		Addr:        local.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	hosts := &pingedHosts{specs: specs, clients: make(map[string]*redis.Client, len(specs))}
	for _, s := range specs {
		hosts.clients[s.Addr] = redis.NewClient(&redis.Options{
			Addr:        s.Addr,
			Password:    cfg.Redis.Password,
			DialTimeout: cfg.Redis.DialTimeout,
		})
	}

	h := NewHandles(cli, cli, hosts, cli, hosts)
	h.Strategy = shard.LocalAffinity
	return h, nil
}

// pingedHosts marks each configured endpoint up or down by pinging it.
type pingedHosts struct {
	specs   []config.HostSpec
	clients map[string]*redis.Client
}

func (p *pingedHosts) Hosts(ctx context.Context) ([]shard.Host, error) {
	out := make([]shard.Host, 0, len(p.specs))
	for _, s := range p.specs {
		up := p.clients[s.Addr].Ping(ctx).Err() == nil
		out = append(out, shard.Host{Addr: s.Addr, Rack: s.Rack, Up: up})
	}
	return out, nil
}

func (p *pingedHosts) Close() error {
	for _, c := range p.clients {
		_ = c.Close()
	}
	return nil
}

// MemoryShard is the single shard used by the in-memory topology.
const MemoryShard = "a"

// memory runs an embedded redis-compatible server in process.
type memory struct{}

func (memory) Mode() string { return config.ModeMemory }

func (memory) Configure(_ context.Context, _ *config.Config) (*Handles, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: start embedded redis: %v", domain.ErrBackendUnavailable, err)
	}
	return Memory(srv), nil
}

// Memory wraps an already running miniredis server.
func Memory(srv *miniredis.Miniredis) *Handles {
	cli := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	hosts := StaticHosts{{Addr: srv.Addr(), Rack: MemoryShard, Up: true}}

	h := NewHandles(cli, cli, hosts, cli, closerFunc(func() error {
		srv.Close()
		return nil
	}))
	h.Strategy = shard.LocalAffinity
	h.Shards = &shard.Options{Count: 1, Local: MemoryShard}
	return h
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
