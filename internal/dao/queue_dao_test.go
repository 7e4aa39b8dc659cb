package dao

import (
	"context"
	"shardq/internal/domain"
	"shardq/internal/infra/redisq"
	"shardq/internal/infra/shard"
	"shardq/internal/infra/topology"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDAO(t *testing.T) (*QueueDAO, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	st, err := shard.NewStrategy(shard.LocalAffinity)
	require.NoError(t, err)

	s, err := redisq.New(context.Background(), topology.Memory(miniredis.RunT(t)), st, redisq.Options{
		Prefix: "dao",
		Shards: shard.Options{Count: 1, Local: topology.MemoryShard},
		Clock:  fc,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, 0), fc
}

func TestInvalidArguments(t *testing.T) {
	d, _ := newDAO(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"push without queue", func() error { return d.Push(ctx, "", "id", 1, 0) }},
		{"push without id", func() error { return d.Push(ctx, "q", "", 1, 0) }},
		{"push priority too high", func() error { return d.Push(ctx, "q", "id", 100, 0) }},
		{"push priority too low", func() error { return d.Push(ctx, "q", "id", -2, 0) }},
		{"batch with bad priority", func() error {
			return d.PushMessages(ctx, "q", []domain.Message{{ID: "ok"}, {ID: "bad", Priority: 250}})
		}},
		{"if-not-exists without id", func() error { _, err := d.PushIfNotExists(ctx, "q", "", 0, 0); return err }},
		{"pop zero count", func() error { _, err := d.Pop(ctx, "q", 0, 0); return err }},
		{"poll negative count", func() error { _, err := d.PollMessages(ctx, "q", -1, 0); return err }},
		{"ack without id", func() error { _, err := d.Ack(ctx, "q", ""); return err }},
		{"remove without queue", func() error { return d.Remove(ctx, "", "id") }},
		{"negative unack timeout", func() error { _, err := d.SetUnackTimeout(ctx, "q", "id", -time.Second); return err }},
		{"reset without id", func() error { _, err := d.ResetOffsetTime(ctx, "q", ""); return err }},
		{"flush without queue", func() error { return d.Flush(ctx, "") }},
		{"size without queue", func() error { _, err := d.Size(ctx, ""); return err }},
		{"contains without id", func() error { _, err := d.ContainsMessage(ctx, "q", ""); return err }},
		{"process unacks without queue", func() error { _, err := d.ProcessUnacks(ctx, ""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), domain.ErrInvalidArgument)
		})
	}

	n, err := d.Size(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, n, "rejected batches must not be partially written")
}

func TestPriorityUnsetUsesDefault(t *testing.T) {
	d, _ := newDAO(t)
	ctx := context.Background()

	require.NoError(t, d.Push(ctx, "q", "unset", domain.PriorityUnset, 0))
	require.NoError(t, d.Push(ctx, "q", "top", domain.MaxPriority, 0))

	got, err := d.PollMessages(ctx, "q", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].ID)
	assert.Equal(t, domain.MaxPriority, got[0].Priority)
	assert.Equal(t, domain.DefaultPriority, got[1].Priority)
}

func TestPushMessagesCarriesPayloadAndDelay(t *testing.T) {
	d, fc := newDAO(t)
	ctx := context.Background()

	require.NoError(t, d.PushMessages(ctx, "q", []domain.Message{
		{ID: "now", Payload: []byte(`{"workflow":"w1"}`), Priority: domain.PriorityUnset},
		{ID: "later", Payload: []byte("x"), Delay: time.Minute},
	}))
	require.NoError(t, d.PushMessages(ctx, "q", nil))

	got, err := d.PollMessages(ctx, "q", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Message{ID: "now", Payload: []byte(`{"workflow":"w1"}`), Priority: 0}, got[0])

	fc.Advance(time.Minute)
	ids, err := d.Pop(ctx, "q", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, ids)
}

func TestPushIfNotExists(t *testing.T) {
	d, _ := newDAO(t)
	ctx := context.Background()

	ok, err := d.PushIfNotExists(ctx, "q", "m1", 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.PushIfNotExists(ctx, "q", "m1", 7, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := d.ContainsMessage(ctx, "q", "m1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestNegativePopTimeoutUsesDefault(t *testing.T) {
	d, _ := newDAO(t)

	ids, err := d.Pop(context.Background(), "q", 1, -1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLeaseLifecycle(t *testing.T) {
	d, fc := newDAO(t)
	ctx := context.Background()

	require.NoError(t, d.Push(ctx, "q", "m1", 1, 0))
	ids, err := d.Pop(ctx, "q", 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids)

	ok, err := d.SetUnackTimeout(ctx, "q", "m1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	fc.Advance(2 * time.Second)
	n, err := d.ProcessUnacks(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err = d.Pop(ctx, "q", 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids)

	ok, err = d.Ack(ctx, "q", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	detail, err := d.QueuesDetail(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"q": 0}, detail)

	verbose, err := d.QueuesDetailVerbose(ctx)
	require.NoError(t, err)
	assert.Contains(t, verbose["q"], topology.MemoryShard)
}

func TestRemoveAndFlush(t *testing.T) {
	d, _ := newDAO(t)
	ctx := context.Background()

	require.NoError(t, d.Push(ctx, "q", "a", 0, 0))
	require.NoError(t, d.Push(ctx, "q", "b", 0, time.Hour))

	ok, err := d.ResetOffsetTime(ctx, "q", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Remove(ctx, "q", "a"))
	n, err := d.Size(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, d.Flush(ctx, "q"))
	n, err = d.Size(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, n)
}
