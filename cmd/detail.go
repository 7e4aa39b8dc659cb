package cmd

import (
	"context"
	"encoding/json"
	"os"
	"shardq/internal/config"
	"shardq/internal/dao"
	"shardq/internal/infra/redisq"

	"github.com/spf13/cobra"
)

func detailCmd() *cobra.Command {
	var verbose bool
	var command = &cobra.Command{
		Use:   "detail",
		Short: "Print queue sizes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := context.Background()

			store, err := redisq.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			q := dao.New(store, cfg.Queue.DefaultPopTimeout)

			var out any
			if verbose {
				out, err = q.QueuesDetailVerbose(ctx)
			} else {
				out, err = q.QueuesDetail(ctx)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	command.Flags().BoolVarP(&verbose, "verbose", "v", false, "Break sizes down by shard and state")
	return command
}
