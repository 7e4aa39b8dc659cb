package redisq

import (
	"context"
	"errors"
	"fmt"
	"shardq/internal/config"
	"shardq/internal/domain"
	"shardq/internal/infra/shard"
	"shardq/internal/infra/topology"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Prefix       string
	UnackTimeout time.Duration
	Shards       shard.Options

	ReaperInterval  time.Duration
	ReaperBatch     int
	RefreshInterval time.Duration

	// PollBase and PollMax bound the sleep between empty pop attempts.
	PollBase time.Duration
	PollMax  time.Duration

	Clock clockwork.Clock
}

func (o *Options) setDefaults() {
	if o.UnackTimeout <= 0 {
		o.UnackTimeout = 60 * time.Second
	}
	if o.ReaperInterval <= 0 {
		o.ReaperInterval = time.Second
	}
	if o.ReaperBatch <= 0 {
		o.ReaperBatch = 1000
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.PollBase <= 0 {
		o.PollBase = 10 * time.Millisecond
	}
	if o.PollMax < o.PollBase {
		o.PollMax = 25 * o.PollBase
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Store is the sharded queue engine. Each (queue, shard) pair lives under
// one redis hash tag, so every state change is a single-slot Lua script.
type Store struct {
	handles  *topology.Handles
	write    redis.UniversalClient
	read     redis.UniversalClient
	strategy shard.Strategy
	clock    clockwork.Clock
	opts     Options

	shards atomic.Pointer[shard.Map]
	known  sync.Map

	reaper *Reaper
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open builds the topology named in cfg and a Store on top of it, with the
// reaper and membership watcher already running. They live until Close.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	h, err := topology.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.Queue.ShardingStrategy
	if name == "" {
		name = h.Strategy
	}
	strategy, err := shard.NewStrategy(name)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	opts := Options{
		Prefix:       cfg.Queue.Prefix,
		UnackTimeout: cfg.Queue.DefaultUnackTimeout,
		Shards: shard.Options{
			Region: cfg.Redis.Region,
			Count:  cfg.Queue.ShardCount,
			Local:  cfg.LocalShardID(),
		},
		ReaperInterval:  cfg.Queue.ReaperInterval,
		ReaperBatch:     cfg.Queue.ReaperBatch,
		RefreshInterval: cfg.Queue.MembershipRefresh,
		PollBase:        cfg.Queue.PollBase,
		PollMax:         cfg.Queue.PollMax,
	}
	if h.Shards != nil {
		opts.Shards = *h.Shards
	}

	s, err := New(ctx, h, strategy, opts)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	s.Start(context.WithoutCancel(ctx))
	return s, nil
}

// New creates a Store over ready handles; the Store owns them afterwards.
func New(ctx context.Context, h *topology.Handles, strategy shard.Strategy, opts Options) (*Store, error) {
	opts.setDefaults()

	s := &Store{
		handles:  h,
		write:    h.Write,
		read:     h.Read,
		strategy: strategy,
		clock:    opts.Clock,
		opts:     opts,
	}
	s.reaper = NewReaper(s, opts.ReaperInterval)

	hosts, err := h.Hosts.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	m, err := shard.Build(hosts, opts.Shards)
	if err != nil {
		return nil, err
	}
	s.shards.Store(m)

	log.Ctx(ctx).Info().
		Str("prefix", opts.Prefix).
		Strs("shards", m.Shards()).
		Str("local_shard", m.Local()).
		Str("strategy", strategy.Name()).
		Dur("unack_timeout", opts.UnackTimeout).
		Msg("queue store initialized")

	return s, nil
}

// Start launches the unack reaper and the membership watcher. They stop on
// Close or when ctx is cancelled. Stores built with New start idle.
func (s *Store) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reaper.Run(ctx) })
	g.Go(func() error { return s.watchMembership(ctx) })
	s.group = g
}

// Close stops background work and releases the client handles.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("queue store background task failed")
		}
		s.cancel = nil
	}
	return s.handles.Close()
}

// ShardMap returns the current membership snapshot.
func (s *Store) ShardMap() *shard.Map { return s.shards.Load() }

func (s *Store) UnackTimeout() time.Duration { return s.opts.UnackTimeout }

// Ping checks the write handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.write.Ping(ctx).Err(); err != nil {
		return backendErr("ping", err)
	}
	return nil
}

func backendErr(op string, err error) error {
	return fmt.Errorf("redisq: %s: %w: %w", op, domain.ErrBackendUnavailable, err)
}

func ms(t time.Time) int64 { return t.UnixMilli() }
