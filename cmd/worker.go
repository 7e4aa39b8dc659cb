package cmd

import (
	"shardq/internal/worker"
	"time"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		queue       string
		batch       int
		baseBackoff time.Duration
		maxBackoff  time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Config{
				Queue:       queue,
				Batch:       batch,
				BaseBackoff: baseBackoff,
				MaxBackoff:  maxBackoff,
			})
		},
	}

	command.Flags().StringVarP(&queue, "queue", "q", "default", "Queue to consume")
	command.Flags().IntVar(&batch, "batch", 10, "Messages leased per poll")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base backoff duration")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max backoff duration")

	return command
}
