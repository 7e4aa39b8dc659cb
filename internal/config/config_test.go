package config

import (
	"shardq/internal/domain"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(vars map[string]string) (*Config, error) {
	return Parse(env.Options{Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	c, err := parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ModeStandalone, c.Redis.Mode)
	assert.Equal(t, "shardq", c.Queue.Prefix)
	assert.Equal(t, "c", c.LocalShardID())
	assert.EqualValues(t, 60_000, c.Queue.DefaultUnackTimeout.Milliseconds())
}

func TestHostSpecs(t *testing.T) {
	c := &Config{Redis: Redis{Hosts: "r1:6379:us-east-1a; r2:6380:us-east-1b;r3:6381"}}
	hosts, err := c.HostSpecs()
	require.NoError(t, err)
	require.Len(t, hosts, 3)

	assert.Equal(t, HostSpec{Addr: "r1:6379", Rack: "us-east-1a"}, hosts[0])
	assert.Equal(t, HostSpec{Addr: "r2:6380", Rack: "us-east-1b"}, hosts[1])
	assert.Equal(t, HostSpec{Addr: "r3:6381"}, hosts[2])

	c.Redis.Hosts = "nohostport"
	_, err = c.HostSpecs()
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown mode":        {"QUEUE_TOPOLOGY_MODE": "dynomite"},
		"unknown strategy":    {"QUEUE_SHARDING_STRATEGY": "random"},
		"zone without host":   {"QUEUE_AVAILABILITY_ZONE": "us-east-1d"},
		"sentinel w/o master": {"QUEUE_TOPOLOGY_MODE": "sentinel"},
		"region w/o host":     {"QUEUE_TOPOLOGY_MODE": "multi_region", "QUEUE_REGION": "eu-west-1", "QUEUE_AVAILABILITY_ZONE": "eu-west-1a"},
		"zero unack timeout":  {"QUEUE_DEFAULT_UNACK_TIMEOUT": "0s"},
		"poll max below base": {"QUEUE_POLL_BASE": "1s", "QUEUE_POLL_MAX": "10ms"},
		"empty hosts":         {"QUEUE_REDIS_HOSTS": " ; "},
		"bad duration":        {"QUEUE_REAPER_INTERVAL": "soon"},
	}

	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(vars)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestValidateMissingZone(t *testing.T) {
	c, err := parse(map[string]string{})
	require.NoError(t, err)

	c.Redis.AvailabilityZone = ""
	assert.ErrorIs(t, c.Validate(), domain.ErrConfiguration)

	c.Queue.LocalShard = "c"
	assert.NoError(t, c.Validate())
}

func TestValidateShardCountSkipsZone(t *testing.T) {
	c, err := parse(map[string]string{
		"QUEUE_TOPOLOGY_MODE":     "cluster",
		"QUEUE_REDIS_HOSTS":       "n1:7000;n2:7001;n3:7002",
		"QUEUE_AVAILABILITY_ZONE": "",
		"QUEUE_SHARD_COUNT":       "4",
		"QUEUE_LOCAL_SHARD":       "b",
	})
	require.NoError(t, err)
	assert.Equal(t, "b", c.LocalShardID())
}

func TestValidateLocalShardWithinShardCount(t *testing.T) {
	c, err := parse(map[string]string{
		"QUEUE_TOPOLOGY_MODE": "cluster",
		"QUEUE_REDIS_HOSTS":   "n1:7000;n2:7001",
		"QUEUE_SHARD_COUNT":   "2",
		"QUEUE_LOCAL_SHARD":   "b",
	})
	require.NoError(t, err)

	// the zone-derived id "c" falls outside shards a and b
	c.Queue.LocalShard = ""
	assert.ErrorIs(t, c.Validate(), domain.ErrConfiguration)

	c.Queue.LocalShard = "z"
	assert.ErrorIs(t, c.Validate(), domain.ErrConfiguration)

	c.Redis.AvailabilityZone = ""
	c.Queue.LocalShard = ""
	assert.NoError(t, c.Validate())
}

func TestMemoryModeNeedsNoHosts(t *testing.T) {
	_, err := parse(map[string]string{
		"QUEUE_TOPOLOGY_MODE": "memory",
		"QUEUE_REDIS_HOSTS":   "",
	})
	assert.NoError(t, err)
}

func TestLocalRegionHost(t *testing.T) {
	c, err := parse(map[string]string{
		"QUEUE_TOPOLOGY_MODE":     "multi_region",
		"QUEUE_REDIS_HOSTS":       "east:6379:us-east-1a;west:6379:us-west-2a",
		"QUEUE_REGION":            "us-west-2",
		"QUEUE_AVAILABILITY_ZONE": "us-west-2a",
	})
	require.NoError(t, err)

	hosts, err := c.HostSpecs()
	require.NoError(t, err)
	h, ok := c.LocalRegionHost(hosts)
	require.True(t, ok)
	assert.Equal(t, "west:6379", h.Addr)
}

func TestStripRegion(t *testing.T) {
	assert.Equal(t, "c", StripRegion("us-east-1c", "us-east-1"))
	assert.Equal(t, "us-west-2a", StripRegion("us-west-2a", "us-east-1"))
	assert.Equal(t, "rack1", StripRegion("rack1", ""))
	assert.Equal(t, "us-east-1", StripRegion("us-east-1", "us-east-1"))
}
