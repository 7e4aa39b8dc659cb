package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	ModeStandalone  = "standalone"
	ModeCluster     = "cluster"
	ModeSentinel    = "sentinel"
	ModeMultiRegion = "multi_region"
	ModeMemory      = "memory"

	StrategyLocal      = "local"
	StrategyRoundRobin = "round_robin"
)

type Config struct {
	Redis Redis
	Queue Queue
}

type Redis struct {
	Mode             string        `env:"QUEUE_TOPOLOGY_MODE" envDefault:"standalone"`
	Hosts            string        `env:"QUEUE_REDIS_HOSTS" envDefault:"localhost:6379:us-east-1c"`
	Password         string        `env:"QUEUE_REDIS_PASSWORD"`
	DB               int           `env:"QUEUE_REDIS_DB"`
	MasterName       string        `env:"QUEUE_REDIS_MASTER_NAME"`
	DialTimeout      time.Duration `env:"QUEUE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	Region           string        `env:"QUEUE_REGION" envDefault:"us-east-1"`
	AvailabilityZone string        `env:"QUEUE_AVAILABILITY_ZONE" envDefault:"us-east-1c"`
}

type Queue struct {
	Prefix              string        `env:"QUEUE_PREFIX" envDefault:"shardq"`
	DefaultPopTimeout   time.Duration `env:"QUEUE_DEFAULT_POP_TIMEOUT" envDefault:"100ms"`
	DefaultUnackTimeout time.Duration `env:"QUEUE_DEFAULT_UNACK_TIMEOUT" envDefault:"60s"`
	ShardCount          int           `env:"QUEUE_SHARD_COUNT"`
	LocalShard          string        `env:"QUEUE_LOCAL_SHARD"`
	ShardingStrategy    string        `env:"QUEUE_SHARDING_STRATEGY"`
	ReaperInterval      time.Duration `env:"QUEUE_REAPER_INTERVAL" envDefault:"1s"`
	ReaperBatch         int           `env:"QUEUE_REAPER_BATCH" envDefault:"1000"`
	MembershipRefresh   time.Duration `env:"QUEUE_MEMBERSHIP_REFRESH" envDefault:"30s"`
	PollBase            time.Duration `env:"QUEUE_POLL_BASE" envDefault:"10ms"`
	PollMax             time.Duration `env:"QUEUE_POLL_MAX" envDefault:"250ms"`
}

// HostSpec is one entry of QUEUE_REDIS_HOSTS.
type HostSpec struct {
	Addr string
	Rack string
}

// Load reads .env (if any) and the environment, exiting the process on an
// invalid configuration.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("ignoring unreadable .env file")
	}

	c, err := Parse(env.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	return c
}

// Parse builds a validated Config; opts lets tests supply an environment map.
func Parse(opts env.Options) (*Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) Validate() error {
	r, q := c.Redis, c.Queue

	switch r.Mode {
	case ModeStandalone, ModeCluster, ModeSentinel, ModeMultiRegion, ModeMemory:
	default:
		return configErr("unknown topology mode %q", r.Mode)
	}

	switch q.ShardingStrategy {
	case "", StrategyLocal, StrategyRoundRobin:
	default:
		return configErr("unknown sharding strategy %q", q.ShardingStrategy)
	}

	if q.DefaultUnackTimeout <= 0 || q.DefaultPopTimeout < 0 {
		return configErr("timeouts must be positive")
	}
	if q.ReaperInterval <= 0 || q.ReaperBatch <= 0 || q.MembershipRefresh <= 0 {
		return configErr("reaper and membership intervals must be positive")
	}
	if q.PollBase <= 0 || q.PollMax < q.PollBase {
		return configErr("poll backoff must satisfy 0 < base <= max")
	}
	if q.ShardCount < 0 {
		return configErr("shard count cannot be negative")
	}

	if r.Mode == ModeMemory {
		return nil
	}

	hosts, err := c.HostSpecs()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return configErr("QUEUE_REDIS_HOSTS is empty")
	}

	if r.Mode == ModeSentinel && r.MasterName == "" {
		return configErr("sentinel mode requires QUEUE_REDIS_MASTER_NAME")
	}
	if r.Mode == ModeMultiRegion {
		if r.Region == "" {
			return configErr("multi-region mode requires QUEUE_REGION")
		}
		if _, ok := c.LocalRegionHost(hosts); !ok {
			return configErr("no host in QUEUE_REDIS_HOSTS belongs to region %q", r.Region)
		}
	}

	if q.ShardCount > 0 {
		local := c.LocalShardID()
		if local == "" {
			return nil
		}
		for i := 0; i < q.ShardCount; i++ {
			if shard.Name(i) == local {
				return nil
			}
		}
		return configErr("local shard %q is not one of the %d synthetic shards", local, q.ShardCount)
	}

	// Shards are racks: the local shard must come from the availability zone.
	if q.LocalShard == "" && r.AvailabilityZone == "" {
		return configErr("availability zone is not defined")
	}
	local := c.LocalShardID()
	for _, h := range hosts {
		if StripRegion(h.Rack, r.Region) == local {
			return nil
		}
	}

	return configErr("local shard %q is not served by any configured host", local)
}

// HostSpecs parses "host:port:rack;host:port:rack".
func (c *Config) HostSpecs() ([]HostSpec, error) {
	var out []HostSpec
	for _, raw := range strings.Split(c.Redis.Hosts, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, configErr("malformed host %q, want host:port[:rack]", raw)
		}
		h := HostSpec{Addr: net.JoinHostPort(parts[0], parts[1])}
		if len(parts) == 3 {
			h.Rack = parts[2]
		}
		out = append(out, h)
	}

	return out, nil
}

// LocalShardID is the explicit local shard, or the availability zone with
// the region stripped (us-east-1c -> c).
func (c *Config) LocalShardID() string {
	if c.Queue.LocalShard != "" {
		return c.Queue.LocalShard
	}
	return StripRegion(c.Redis.AvailabilityZone, c.Redis.Region)
}

// LocalRegionHost returns the first host whose rack lies in the local region.
func (c *Config) LocalRegionHost(hosts []HostSpec) (HostSpec, bool) {
	for _, h := range hosts {
		if c.Redis.Region != "" && strings.HasPrefix(h.Rack, c.Redis.Region) {
			return h, true
		}
	}
	return HostSpec{}, false
}

func StripRegion(rack, region string) string {
	if region == "" {
		return rack
	}
	if s := strings.TrimPrefix(rack, region); s != "" {
		return s
	}
	return rack
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
