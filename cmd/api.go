package cmd

import (
	"context"
	"os"
	"os/signal"
	"shardq/internal/api"
	"shardq/internal/config"
	"shardq/internal/dao"
	"shardq/internal/infra/redisq"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()
			log.Info().Msgf("API server using mode: %s, prefix: %s", cfg.Redis.Mode, cfg.Queue.Prefix)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := redisq.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			server := api.NewServer(dao.New(store, cfg.Queue.DefaultPopTimeout), store.Ping)
			return server.Run(ctx, port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
