package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"shardq/internal/config"
	"shardq/internal/dao"
	"shardq/internal/domain"
	"shardq/internal/infra/redisq"
	"shardq/internal/usecase"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Queue       string
	Batch       int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Run consumes cfg.Queue until SIGINT or SIGTERM. The store's reaper runs
// alongside, so leases abandoned by crashed workers come back.
func Run(cfg Config) error {
	appCfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := redisq.Open(ctx, appCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	consumer := &usecase.Consumer{
		Q:           dao.New(store, appCfg.Queue.DefaultPopTimeout),
		Queue:       cfg.Queue,
		Batch:       cfg.Batch,
		PollTimeout: -1,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}

	err = consumer.Run(ctx, demoHandler())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// demoHandler logs each message. Payloads starting with "demo.fail" fail
// twice before succeeding.
func demoHandler() usecase.Handler {
	var mu sync.Mutex
	attempts := make(map[string]int)

	return func(ctx context.Context, m domain.Message) error {
		if strings.HasPrefix(string(m.Payload), "demo.fail") {
			mu.Lock()
			attempts[m.ID]++
			n := attempts[m.ID]
			mu.Unlock()
			if n <= 2 {
				return errors.New("simulated failure")
			}
		}
		log.Ctx(ctx).Info().Msgf("processed message %s priority=%d bytes=%d", m.ID, m.Priority, len(m.Payload))
		return nil
	}
}
