package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/bluesky"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/sqlite"
)

const exportPageSize = 500

var (
	exportOutput string
	exportFormat string
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export posts collected from the firehose, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := sqlite.NewRepository(cmd.Context(), cfg.Store.Path)
		if err != nil {
			return err
		}
		defer repo.Close()

		var (
			records []domain.Record
			cursor  string
		)
		for exportLimit <= 0 || len(records) < exportLimit {
			pageLimit := exportPageSize
			if exportLimit > 0 {
				pageLimit = min(pageLimit, exportLimit-len(records))
			}
			page, next, err := repo.ListRecords(cmd.Context(), pageLimit, cursor)
			if err != nil {
				return eris.Wrap(err, "export records")
			}
			records = append(records, page...)
			if next == "" {
				break
			}
			cursor = next
		}

		zap.L().Info("exporting records", zap.Int("records", len(records)))
		return writeRecords(cmd, exportOutput, exportFormat, bluesky.PostFields, records)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "output file (- for stdout)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", formatCSV, "output format: csv or jsonl")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max number of records (0 for all)")
	rootCmd.AddCommand(exportCmd)
}
