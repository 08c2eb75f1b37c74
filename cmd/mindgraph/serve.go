package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/mindgraph/internal/runtime"
	"github.com/mohammad-safakhou/mindgraph/internal/server"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var (
		addr      string
		migrate   bool
		migDir    string
		skipSweep bool
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the enrichment sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath, appOptions{service: "api"})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			if migrate && a.pg != nil {
				dsn, err := runtime.BuildPostgresDSN(a.cfg)
				if err != nil {
					return err
				}
				if err := store.Migrate(migDir, dsn, "up", 0); err != nil {
					return err
				}
			}
			secret, err := runtime.LoadJWTSecret(a.cfg)
			if err != nil {
				return err
			}

			deps := server.Deps{
				Users:     a.repo,
				Documents: a.repo,
				Nodes:     a.repo,
				Ingest:    a.coord,
				Index:     a.index,
				LLM:       a.gateway,
				Metrics:   a.telemetry.Handler(),
				Secret:    secret,
			}
			if a.pg != nil {
				deps.Health = a.pg
			}
			srv := server.New(a.cfg.Server, deps, a.logger.Named("http"))

			if !skipSweep && a.cfg.Ingestion.SweepCron != "" {
				var rdb redis.UniversalClient
				if a.rdb != nil {
					rdb = a.rdb
				}
				sched, err := server.NewScheduler(a.cfg.Ingestion.SweepCron, a.coord, rdb,
					a.cfg.Ingestion.EnrichTimeout, a.cfg.Ingestion.SweepBatch, a.logger.Named("sweep"))
				if err != nil {
					return err
				}
				go sched.Run(ctx)
			}

			err = srv.Run(ctx)
			drainInline(a)
			return err
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	serve.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	serve.Flags().StringVar(&migDir, "migrations", "file://migrations", "migrations source")
	serve.Flags().BoolVar(&skipSweep, "no-sweep", false, "disable the stale document sweep")
	return serve
}

// drainInline gives in-process enrichment jobs a bounded window to finish.
func drainInline(a *app) {
	done := make(chan struct{})
	go func() {
		a.wait()
		close(done)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Ingestion.EnrichTimeout)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("enrichment still running at shutdown; the sweep will retry", zap.Duration("waited", a.cfg.Ingestion.EnrichTimeout))
	}
}
