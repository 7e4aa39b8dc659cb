package redisq

import (
	"context"
	"errors"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"
	"shardq/pkg/backoff"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is the stored form of a queue entry. Delay is relative to the
// store clock at push time.
type Message struct {
	ID       string
	Payload  []byte
	Priority int
	Delay    time.Duration
}

// Push inserts msgs, overwriting pending entries with the same id. Entries
// currently leased are left untouched. New ids go to their home shard, so
// concurrent pushes of one id from any process land on the same shard.
func (s *Store) Push(ctx context.Context, queue string, msgs ...Message) error {
	if err := s.register(ctx, queue); err != nil {
		return err
	}

	m := s.shards.Load()
	now := s.clock.Now()
	for _, msg := range msgs {
		target, err := s.locate(ctx, s.write, m, queue, msg.ID)
		if err != nil {
			return err
		}
		if target == "" {
			target = s.strategy.PushShard(m, queue, msg.ID)
		}
		if _, err := s.push(ctx, queue, target, msg, now, false); err != nil {
			return err
		}
	}
	return nil
}

// PushIfNotExists inserts msg only if its id is absent from every shard.
// The insert itself targets the id's home shard so concurrent callers race
// on one atomic script.
func (s *Store) PushIfNotExists(ctx context.Context, queue string, msg Message) (bool, error) {
	if err := s.register(ctx, queue); err != nil {
		return false, err
	}

	m := s.shards.Load()
	found, err := s.locate(ctx, s.write, m, queue, msg.ID)
	if err != nil || found != "" {
		return false, err
	}
	return s.push(ctx, queue, m.Home(queue, msg.ID), msg, s.clock.Now(), true)
}

func (s *Store) push(ctx context.Context, queue, shardID string, msg Message, now time.Time, onlyIfAbsent bool) (bool, error) {
	visible := now.Add(max(msg.Delay, 0))
	flag := "0"
	if onlyIfAbsent {
		flag = "1"
	}

	n, err := pushScript.Run(ctx, s.write, s.keys(queue, shardID).all(),
		msg.ID, msg.Priority, ms(visible), ms(now), msg.Payload, flag).Int()
	if err != nil {
		return false, backendErr("push", err)
	}
	if n == 1 {
		mPushed.WithLabelValues(queue, shardID).Inc()
	}
	return n == 1, nil
}

// Pop leases up to count messages, waiting up to wait for the first one.
// An elapsed wait yields an empty result, not an error.
func (s *Store) Pop(ctx context.Context, queue string, count int, wait time.Duration) ([]Message, error) {
	deadline := s.clock.Now().Add(wait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := s.popOnce(ctx, queue, count)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}
		pause := min(backoff.ExponentialJitter(s.opts.PollBase, s.opts.PollMax, attempt), remaining)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(pause):
		}
	}
}

func (s *Store) popOnce(ctx context.Context, queue string, count int) ([]Message, error) {
	m := s.shards.Load()
	now := s.clock.Now()
	leaseUntil := now.Add(s.opts.UnackTimeout)

	var out []Message
	for _, shardID := range s.strategy.PopShards(m, queue) {
		need := count - len(out)
		if need <= 0 {
			break
		}

		res, err := popScript.Run(ctx, s.write, s.keys(queue, shardID).all(),
			ms(now), need, ms(leaseUntil), s.opts.ReaperBatch).StringSlice()
		if err != nil && !errors.Is(err, redis.Nil) {
			// Anything leased so far is redelivered once its lease expires.
			return nil, backendErr("pop", err)
		}

		for i := 0; i+2 < len(res); i += 3 {
			prio, _ := strconv.Atoi(res[i+1])
			out = append(out, Message{ID: res[i], Priority: prio, Payload: []byte(res[i+2])})
		}
		if n := len(res) / 3; n > 0 {
			mPopped.WithLabelValues(queue, shardID).Add(float64(n))
		}
	}
	return out, nil
}

// Ack removes a leased message for good. Unknown or pending ids return false.
func (s *Store) Ack(ctx context.Context, queue, id string) (bool, error) {
	ok, err := s.firstShard(ctx, queue, "ack", ackScript, id)
	if ok {
		mAcked.WithLabelValues(queue).Inc()
	}
	return ok, err
}

// SetUnackTimeout moves the delivery deadline of a leased message to
// now+timeout.
func (s *Store) SetUnackTimeout(ctx context.Context, queue, id string, timeout time.Duration) (bool, error) {
	return s.firstShard(ctx, queue, "set unack timeout", unackTimeoutScript, id, ms(s.clock.Now().Add(timeout)))
}

// ResetOffsetTime makes a pending message visible now.
func (s *Store) ResetOffsetTime(ctx context.Context, queue, id string) (bool, error) {
	return s.firstShard(ctx, queue, "reset offset", resetOffsetScript, id, ms(s.clock.Now()))
}

// Remove deletes id in whatever state it is in.
func (s *Store) Remove(ctx context.Context, queue, id string) error {
	for _, shardID := range s.shards.Load().Shards() {
		if err := removeScript.Run(ctx, s.write, s.keys(queue, shardID).all(), id).Err(); err != nil {
			return backendErr("remove", err)
		}
	}
	return nil
}

// firstShard runs script against shards, local first, until one reports 1.
func (s *Store) firstShard(ctx context.Context, queue, op string, script *redis.Script, args ...any) (bool, error) {
	for _, shardID := range searchOrder(s.shards.Load()) {
		n, err := script.Run(ctx, s.write, s.keys(queue, shardID).all(), args...).Int()
		if err != nil {
			return false, backendErr(op, err)
		}
		if n == 1 {
			return true, nil
		}
	}
	return false, nil
}

// Flush empties every shard of queue; the queue stays registered.
func (s *Store) Flush(ctx context.Context, queue string) error {
	for _, shardID := range s.shards.Load().Shards() {
		if err := s.write.Del(ctx, s.keys(queue, shardID).all()...).Err(); err != nil {
			return backendErr("flush", err)
		}
	}
	return nil
}

// Size counts pending, delayed and leased messages across shards.
func (s *Store) Size(ctx context.Context, queue string) (int64, error) {
	sizes, err := s.shardSizes(ctx, queue)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, states := range sizes {
		for _, n := range states {
			total += n
		}
	}
	return total, nil
}

// Contains reports whether id is present in any state.
func (s *Store) Contains(ctx context.Context, queue, id string) (bool, error) {
	found, err := s.locate(ctx, s.read, s.shards.Load(), queue, id)
	return found != "", err
}

// Queues lists every queue ever pushed to, here or by another process.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	names, err := s.read.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return nil, backendErr("list queues", err)
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	s.known.Range(func(k, _ any) bool {
		if name := k.(string); !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names, nil
}

// Detail maps each queue to its size.
func (s *Store) Detail(ctx context.Context) (map[string]int64, error) {
	queues, err := s.Queues(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(queues))
	for _, q := range queues {
		n, err := s.Size(ctx, q)
		if err != nil {
			return nil, err
		}
		out[q] = n
	}
	return out, nil
}

// DetailVerbose maps queue -> shard -> state -> count.
func (s *Store) DetailVerbose(ctx context.Context) (map[string]map[string]map[string]int64, error) {
	queues, err := s.Queues(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]map[string]int64, len(queues))
	for _, q := range queues {
		sizes, err := s.shardSizes(ctx, q)
		if err != nil {
			return nil, err
		}
		out[q] = sizes
	}
	return out, nil
}

func (s *Store) shardSizes(ctx context.Context, queue string) (map[string]map[string]int64, error) {
	shards := s.shards.Load().Shards()
	type counts struct{ ready, delayed, unack *redis.IntCmd }
	cmds := make([]counts, len(shards))

	_, err := s.read.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, shardID := range shards {
			k := s.keys(queue, shardID)
			cmds[i] = counts{p.ZCard(ctx, k.ready), p.ZCard(ctx, k.delayed), p.ZCard(ctx, k.unack)}
		}
		return nil
	})
	if err != nil {
		return nil, backendErr("size", err)
	}

	out := make(map[string]map[string]int64, len(shards))
	for i, shardID := range shards {
		states := map[string]int64{
			string(domain.StatePending):  cmds[i].ready.Val(),
			string(domain.StateDelayed):  cmds[i].delayed.Val(),
			string(domain.StateInFlight): cmds[i].unack.Val(),
		}
		for state, n := range states {
			mShardMessages.WithLabelValues(queue, shardID, state).Set(float64(n))
		}
		out[shardID] = states
	}
	return out, nil
}

// ProcessUnacks returns expired leases of queue to the ready set.
func (s *Store) ProcessUnacks(ctx context.Context, queue string) (int, error) {
	now := ms(s.clock.Now())
	total := 0
	for _, shardID := range s.shards.Load().Shards() {
		n, err := requeueScript.Run(ctx, s.write, s.keys(queue, shardID).all(), now, s.opts.ReaperBatch).Int()
		if err != nil {
			return total, backendErr("process unacks", err)
		}
		if n > 0 {
			mRequeued.WithLabelValues(queue, shardID).Add(float64(n))
		}
		total += n
	}
	return total, nil
}

// locate returns the shard holding id, or "" if none does.
func (s *Store) locate(ctx context.Context, cli redis.UniversalClient, m *shard.Map, queue, id string) (string, error) {
	shards := m.Shards()
	cmds := make([]*redis.BoolCmd, len(shards))
	_, err := cli.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, shardID := range shards {
			cmds[i] = p.HExists(ctx, s.keys(queue, shardID).meta, id)
		}
		return nil
	})
	if err != nil {
		return "", backendErr("locate", err)
	}
	for i, c := range cmds {
		if c.Val() {
			return shards[i], nil
		}
	}
	return "", nil
}

func (s *Store) register(ctx context.Context, queue string) error {
	if _, loaded := s.known.LoadOrStore(queue, struct{}{}); loaded {
		return nil
	}
	if err := s.write.SAdd(ctx, s.registryKey(), queue).Err(); err != nil {
		s.known.Delete(queue)
		return backendErr("register queue", err)
	}
	return nil
}

// searchOrder is the local shard followed by the rest.
func searchOrder(m *shard.Map) []string {
	local := m.Local()
	out := []string{local}
	for _, id := range m.Shards() {
		if id != local {
			out = append(out, id)
		}
	}
	return out
}
