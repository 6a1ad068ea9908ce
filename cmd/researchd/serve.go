package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/researchd/internal/server"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			janitor, err := task.NewJanitor(a.registry, cfg.Registry.SweepCron, nil)
			if err != nil {
				return err
			}
			janitor.Start()
			defer janitor.Stop()

			srv := server.New(a.registry, a.broker, a.engine, a.memory, server.Options{
				ServiceName:      cfg.General.ServiceName,
				Version:          cfg.General.Version,
				AllowedOrigins:   cfg.Server.AllowedOrigins,
				JWTSecret:        cfg.Server.JWTSecret,
				LLMConfigured:    a.llmConfigured,
				SearchConfigured: a.searchConfigured,
				Heartbeat:        cfg.Server.Heartbeat,
				MetricsHandler:   a.telemetry.Handler(),
				Metrics:          a.telemetry.Metrics,
			})

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(cfg.Server.Address) }()

			select {
			case err := <-errc:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				log.Printf("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			var errs []error
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
			if err := a.engine.Wait(shutdownCtx); err != nil {
				log.Printf("running tasks did not finish before shutdown: %v", err)
			}
			if err := a.Close(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
