package main

import (
	"fmt"
	"log"

	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/runtime"
	"github.com/paolomoz/nova/internal/search"
	srv "github.com/paolomoz/nova/internal/server"
	"github.com/paolomoz/nova/internal/store"
	"github.com/paolomoz/nova/internal/worker"
	"github.com/spf13/cobra"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Keep the search index fresh from page-change events",
		Long: "Consumes the page-change stream and runs the scheduled full reindex against " +
			"search.index_path. With --once it runs a single reindex pass and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadStorage(*cfgPath)
			if err != nil {
				return err
			}
			tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "nova-worker", ServiceVersion: "dev"})
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.Close()
			idx, err := search.Open(cfg.Search.IndexPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			rdb, err := runtime.NewRedisClient(ctx, cfg)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			if once {
				r, err := worker.NewReindexer(nil, st, idx, rdb, cfg.Worker.ReindexCron)
				if err != nil {
					return err
				}
				return r.RunOnce(ctx)
			}
			if rdb == nil {
				return fmt.Errorf("redis not configured (storage.redis.host); the page-change consumer needs it")
			}
			if err := srv.StartIndexing(ctx, cfg, st, idx, rdb, cfg.Worker.Group, cfg.Worker.Consumer); err != nil {
				return err
			}
			log.Printf("worker running; consuming %s as %s/%s", cfg.Worker.Stream, cfg.Worker.Group, cfg.Worker.Consumer)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one full reindex and exit")
	return cmd
}
