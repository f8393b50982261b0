package main

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/twitter"
)

var (
	normalizeInput      string
	normalizeOutput     string
	normalizeFormat     string
	normalizeSource     string
	normalizeReferenced bool
	normalizeAnonymize  bool
	normalizeFailFast   bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize a file of JSON payloads",
	Long:  "Reads one JSON payload per line and writes one normalized record per row, as CSV or JSON lines.",
}

func init() {
	for _, kind := range entityKinds {
		normalizeCmd.AddCommand(newNormalizeKindCmd(kind))
	}

	pf := normalizeCmd.PersistentFlags()
	pf.StringVarP(&normalizeInput, "input", "i", "-", "file of JSON payloads (- for stdin)")
	pf.StringVarP(&normalizeOutput, "output", "o", "-", "output file (- for stdout)")
	pf.StringVarP(&normalizeFormat, "format", "f", formatCSV, "output format: csv or jsonl")
	pf.StringVar(&normalizeSource, "source", "", "collection source recorded in collected_via")
	pf.BoolVar(&normalizeReferenced, "referenced", false, "also emit retweeted, quoted and thread posts")
	pf.BoolVar(&normalizeAnonymize, "anonymize", false, "strip personal fields from tweets")
	pf.BoolVar(&normalizeFailFast, "fail-fast", false, "stop at the first payload that fails to normalize")

	rootCmd.AddCommand(normalizeCmd)
}

func newNormalizeKindCmd(kind entityKind) *cobra.Command {
	return &cobra.Command{
		Use:   kind.name,
		Short: kind.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if normalizeAnonymize && !kind.tweets {
				return eris.Errorf("--anonymize only applies to tweets, not %s", kind.name)
			}

			in, err := openInput(cmd, normalizeInput)
			if err != nil {
				return err
			}
			defer in.Close()

			payloads, err := readPayloads(in)
			if err != nil {
				return err
			}

			opts, err := normalizeOptions(normalizeSource)
			if err != nil {
				return err
			}

			records, err := normalizeBatch(cmd.Context(), kind, payloads, batchOptions{
				referenced:  normalizeReferenced,
				anonymize:   normalizeAnonymize,
				failFast:    normalizeFailFast,
				concurrency: cfg.Batch.Concurrency,
				normalize:   opts,
			})
			if err != nil {
				return err
			}

			return writeRecords(cmd, normalizeOutput, normalizeFormat, kind.fields, records)
		},
	}
}

// normalizeOptions returns the configured normalizer options, tagged with
// source when set.
func normalizeOptions(source string) ([]domain.Option, error) {
	opts, err := cfg.NormalizeOptions(zap.L())
	if err != nil {
		return nil, err
	}
	if source != "" {
		opts = append(opts, domain.WithCollectionSource(source))
	}
	return opts, nil
}

type batchOptions struct {
	referenced  bool
	anonymize   bool
	failFast    bool
	concurrency int
	normalize   []domain.Option
}

// normalizeBatch normalizes payloads concurrently and returns their records
// in input order. Payloads that fail are logged and skipped unless failFast
// is set.
func normalizeBatch(ctx context.Context, kind entityKind, payloads []any, bo batchOptions) ([]domain.Record, error) {
	if len(payloads) == 0 {
		zap.L().Info("no payloads to normalize")
		return nil, nil
	}

	results := make([][]domain.Record, len(payloads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(bo.concurrency, 1))

	var failed atomic.Int64

	for i, payload := range payloads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			records, err := kind.run(payload, bo.referenced, bo.normalize)
			if err != nil {
				if bo.failFast {
					return eris.Wrapf(err, "payload %d", i+1)
				}
				failed.Add(1)
				zap.L().Warn("skipping payload", zap.String("kind", kind.name), zap.Int("payload", i+1), zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			if bo.anonymize {
				for _, r := range records {
					twitter.AnonymizeTweet(r)
				}
			}
			results[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "normalize batch")
	}

	records, err := mergeBatches(results, kind.key, bo.referenced)
	if err != nil {
		return nil, err
	}

	zap.L().Info("normalize complete",
		zap.String("kind", kind.name),
		zap.Int("payloads", len(payloads)),
		zap.Int64("failed", failed.Load()),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// mergeBatches flattens per-payload records. With dedupe set, an entity
// met again is folded into its first occurrence, which keeps its position.
func mergeBatches(batches [][]domain.Record, key func(domain.Record) string, dedupe bool) ([]domain.Record, error) {
	var out []domain.Record
	seen := make(map[string]domain.Record)

	for _, batch := range batches {
		for _, rec := range batch {
			if !dedupe {
				out = append(out, rec)
				continue
			}
			k := key(rec)
			if existing, ok := seen[k]; ok {
				if err := domain.Merge(existing, rec, domain.MergeFirstWins, k); err != nil {
					return nil, err
				}
				continue
			}
			seen[k] = rec
			out = append(out, rec)
		}
	}
	return out, nil
}
