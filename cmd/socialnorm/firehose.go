package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/firehose"
	"github.com/blackmichael/socialnorm/internal/sqlite"
)

var firehoseCmd = &cobra.Command{
	Use:   "firehose",
	Short: "Collect normalized posts from the Jetstream firehose",
	Long:  "Subscribes to Jetstream, normalizes every new post and stores it in the local database. Deleted posts are removed and old records pruned.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := sqlite.NewRepository(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer repo.Close()
		zap.L().Info("opened record store", zap.String("path", cfg.Store.Path))

		opts, err := normalizeOptions("")
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		collectFirehose(gctx, g, repo, opts)

		err = g.Wait()
		if ctx.Err() != nil {
			zap.L().Info("firehose stopped")
			return nil
		}
		return eris.Wrap(err, "firehose")
	},
}

func init() {
	rootCmd.AddCommand(firehoseCmd)
}

// collectFirehose starts the subscriber and the prune loop on g.
func collectFirehose(ctx context.Context, g *errgroup.Group, repo *sqlite.Repository, opts []domain.Option) {
	fc := cfg.Firehose
	subscriber := firehose.NewSubscriber(fc.URL, repo, repo, zap.L(),
		firehose.WithCursorInterval(seconds(fc.CursorIntervalSecs)),
		firehose.WithStatsInterval(seconds(fc.StatsIntervalSecs)),
		firehose.WithNormalizeOptions(opts...),
	)

	g.Go(func() error {
		return subscriber.Start(ctx)
	})
	g.Go(func() error {
		runPruneLoop(ctx, repo,
			time.Duration(fc.PruneIntervalMinutes)*time.Minute,
			time.Duration(fc.PruneMaxAgeHours)*time.Hour,
			fc.PruneMaxRows)
		return nil
	})
}

type pruner interface {
	Prune(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error)
}

// runPruneLoop prunes the store once, then every interval until ctx is
// done. A non-positive interval disables pruning.
func runPruneLoop(ctx context.Context, store pruner, interval, maxAge time.Duration, maxRows int) {
	if interval <= 0 {
		return
	}
	prune(ctx, store, maxAge, maxRows)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(ctx, store, maxAge, maxRows)
		}
	}
}

func prune(ctx context.Context, store pruner, maxAge time.Duration, maxRows int) {
	deleted, err := store.Prune(ctx, maxAge, maxRows)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Error("record pruning failed", zap.Error(err))
		}
		return
	}
	if deleted > 0 {
		zap.L().Info("record pruning complete", zap.Int64("deleted", deleted))
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
