package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/reysq/internal/app"
	"github.com/ent0n29/reysq/internal/transport"
)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway (and the Discord bot when configured)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					logger.Warn("cleanup failed", "error", err)
				}
			}()

			green := color.New(color.FgGreen)
			green.Print("▶ ")
			fmt.Printf("HTTP:   %s\n", cfg.BindAddr)
			green.Print("▶ ")
			fmt.Printf("Memory: %s (K=%d, %s)\n", cfg.StoreMode(), cfg.MemoryMaxTurns, cfg.CompactionMode)
			green.Print("▶ ")
			fmt.Printf("Voice:  stt=%s tts=%s\n", built.Voice.Transcription, built.Voice.Synthesis)

			httpServer := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           built.API.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			built.Gate.StartJanitor(ctx, time.Minute)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("server listening", "addr", cfg.BindAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			})
			if built.Discord != nil {
				g.Go(func() error {
					return built.Discord.Start(gctx, func(ctx context.Context, in transport.Inbound) {
						built.Processor.Handle(ctx, in)
					})
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					_ = httpServer.Close()
					return fmt.Errorf("graceful shutdown: %w", err)
				}
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
