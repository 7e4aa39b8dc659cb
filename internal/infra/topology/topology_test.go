package topology

import (
	"context"
	"errors"
	"shardq/internal/config"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mode, hosts string) *config.Config {
	return &config.Config{Redis: config.Redis{
		Mode:             mode,
		Hosts:            hosts,
		DialTimeout:      time.Second,
		Region:           "us-east-1",
		AvailabilityZone: "us-east-1c",
	}}
}

func TestLookupUnknownMode(t *testing.T) {
	_, err := Lookup("dynomite")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	for _, mode := range []string{
		config.ModeStandalone, config.ModeCluster, config.ModeSentinel,
		config.ModeMultiRegion, config.ModeMemory,
	} {
		c, err := Lookup(mode)
		require.NoError(t, err)
		assert.Equal(t, mode, c.Mode())
	}
}

func TestOpenStandalone(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, err := Open(ctx, testConfig(config.ModeStandalone, mr.Addr()+":us-east-1c"))
	require.NoError(t, err)
	defer h.Close()

	assert.Same(t, h.Write, h.Read)
	assert.Equal(t, shard.LocalAffinity, h.Strategy)

	hosts, err := h.Hosts.Hosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shard.Host{{Addr: mr.Addr(), Rack: "us-east-1c", Up: true}}, hosts)

	require.NoError(t, h.Write.Set(ctx, "k", "v", 0).Err())
	assert.Equal(t, "v", h.Read.Get(ctx, "k").Val())
}

func TestOpenStandaloneUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), testConfig(config.ModeStandalone, addr+":us-east-1c"))
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()

	h, err := Open(ctx, testConfig(config.ModeMemory, ""))
	require.NoError(t, err)
	defer h.Close()

	require.NotNil(t, h.Shards)
	assert.Equal(t, 1, h.Shards.Count)
	assert.Equal(t, MemoryShard, h.Shards.Local)

	hosts, err := h.Hosts.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.True(t, hosts[0].Up)
}

func TestOpenMultiRegion(t *testing.T) {
	east := miniredis.RunT(t)
	west := miniredis.RunT(t)
	ctx := context.Background()

	cfg := testConfig(config.ModeMultiRegion, east.Addr()+":us-east-1c;"+west.Addr()+":us-west-2a")
	h, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Write.Set(ctx, "k", "v", 0).Err())
	east.CheckGet(t, "k", "v")
	assert.False(t, west.Exists("k"))

	west.Close()
	hosts, err := h.Hosts.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.True(t, hosts[0].Up)
	assert.False(t, hosts[1].Up)
}

func TestStaticHostsReturnsCopy(t *testing.T) {
	s := StaticHosts{{Addr: "a", Up: true}}
	hosts, err := s.Hosts(context.Background())
	require.NoError(t, err)

	hosts[0].Up = false
	assert.True(t, s[0].Up)
}

type fakeSlots struct {
	slots []redis.ClusterSlot
	err   error
}

func (f *fakeSlots) ClusterSlots(context.Context) *redis.ClusterSlotsCmd {
	return redis.NewClusterSlotsCmdResult(f.slots, f.err)
}

func slot(start int, addrs ...string) redis.ClusterSlot {
	s := redis.ClusterSlot{Start: start, End: start + 99}
	for _, a := range addrs {
		s.Nodes = append(s.Nodes, redis.ClusterNode{Addr: a})
	}
	return s
}

func TestClusterHosts(t *testing.T) {
	specs := []config.HostSpec{
		{Addr: "10.0.0.1:6379", Rack: "us-east-1a"},
		{Addr: "10.0.0.2:6379", Rack: "us-east-1b"},
		{Addr: "10.0.0.3:6379", Rack: "us-east-1c"},
	}
	ctx := context.Background()
	opts := shard.Options{Region: "us-east-1", Local: "a"}

	src := &fakeSlots{slots: []redis.ClusterSlot{
		slot(0, "10.0.0.1:6379"),
		slot(100, "10.0.0.2:6379"),
		slot(200, "10.0.0.3:6379"),
	}}
	c := &clusterHosts{client: src, specs: specs}
	hosts, err := c.Hosts(ctx)
	require.NoError(t, err)
	before, err := shard.Build(hosts, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, before.Shards())

	// rack c fails over to a replica that was never configured
	src.slots[2] = slot(200, "10.0.9.9:6379")
	hosts, err = c.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 4)
	assert.False(t, hosts[2].Up)
	assert.Equal(t, shard.Host{Addr: "10.0.9.9:6379", Up: true}, hosts[3])

	after, err := shard.Build(hosts, opts)
	require.NoError(t, err)
	assert.Equal(t, before.Shards(), after.Shards())
}

func TestClusterHostsMatchesResolvedNames(t *testing.T) {
	c := &clusterHosts{
		client: &fakeSlots{slots: []redis.ClusterSlot{slot(0, "127.0.0.1:7000", "127.0.0.1:7001")}},
		specs: []config.HostSpec{
			{Addr: "localhost:7000", Rack: "us-east-1a"},
			{Addr: "localhost:7001", Rack: "us-east-1b"},
		},
	}
	hosts, err := c.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.True(t, hosts[0].Up)
	assert.True(t, hosts[1].Up)

	m, err := shard.Build(hosts, shard.Options{Region: "us-east-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Shards())
}

func TestClusterHostsUnavailable(t *testing.T) {
	c := &clusterHosts{client: &fakeSlots{err: errors.New("dial tcp: refused")}}
	_, err := c.Hosts(context.Background())
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}
