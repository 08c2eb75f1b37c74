package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/mindgraph/internal/queue/streams"
	"github.com/mohammad-safakhou/mindgraph/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func workerCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume document.enrich jobs from the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath, appOptions{service: "worker"})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.rdb == nil || a.registry == nil {
				return errors.New("worker requires ingestion.dispatch=stream and a reachable redis")
			}

			ing := a.cfg.Ingestion
			if err := streams.EnsureGroup(ctx, a.rdb, ing.Stream, ing.ConsumerGroup); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}
			host, _ := os.Hostname()
			name := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			logger := a.logger.Named("worker").With(zap.String("consumer", name))

			consumer := streams.NewConsumer(a.rdb, a.registry, ing.ConsumerGroup, name, logger)
			publisher := streams.NewPublisher(a.rdb, a.registry).WithDefaultMaxLen(100000)
			processor := worker.NewProcessor(logger, a.coord, consumer, publisher, worker.Config{
				Stream:       ing.Stream,
				EventsStream: ing.EventsStream,
				MaxAttempts:  ing.MaxAttempts,
				JobTimeout:   ing.EnrichTimeout,
			}, a.meter, a.tracer)

			logger.Info("worker started", zap.String("stream", ing.Stream), zap.String("group", ing.ConsumerGroup))
			return processor.Start(ctx)
		},
	}
}
