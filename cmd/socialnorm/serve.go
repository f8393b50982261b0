package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/socialnorm/internal/httpserver"
	"github.com/blackmichael/socialnorm/internal/sqlite"
)

var (
	servePort     int
	serveFirehose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve normalization and collected records over HTTP",
	Long:  "Starts an HTTP server normalizing posted payloads and listing the records stored by the firehose collector. With --firehose the collector runs in the same process.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := sqlite.NewRepository(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer repo.Close()

		opts, err := normalizeOptions("")
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		server := httpserver.NewServer(port, serverNormalizers(), repo, opts, zap.L())

		g, gctx := errgroup.WithContext(ctx)
		if serveFirehose {
			collectFirehose(gctx, g, repo, opts)
		}
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("error shutting down http server", zap.Error(err))
			}
			return nil
		})

		err = g.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (0 uses server.port)")
	serveCmd.Flags().BoolVar(&serveFirehose, "firehose", false, "also collect posts from the firehose")
	rootCmd.AddCommand(serveCmd)
}

func serverNormalizers() map[string]httpserver.NormalizeFunc {
	normalizers := make(map[string]httpserver.NormalizeFunc, len(entityKinds))
	for _, kind := range entityKinds {
		normalizers[kind.name] = httpserver.NormalizeFunc(kind.run)
	}
	return normalizers
}
