package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/format"
)

var (
	inspectInput  string
	inspectKind   string
	inspectFormat string
	inspectWidth  int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print normalized records field by field",
	Long:  "Normalizes payloads like normalize does and prints each record as an aligned field listing, or as YAML.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := kindByName(inspectKind)
		if !ok {
			return eris.Errorf("unknown kind %q", inspectKind)
		}

		in, err := openInput(cmd, inspectInput)
		if err != nil {
			return err
		}
		defer in.Close()

		payloads, err := readPayloads(in)
		if err != nil {
			return err
		}
		opts, err := normalizeOptions("")
		if err != nil {
			return err
		}
		records, err := normalizeBatch(cmd.Context(), kind, payloads, batchOptions{
			failFast:    true,
			concurrency: cfg.Batch.Concurrency,
			normalize:   opts,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch inspectFormat {
		case "text":
			return writeListing(out, kind.fields, records, inspectWidth)
		case "yaml":
			return writeYAML(out, records)
		default:
			return eris.Errorf("unknown inspect format %q", inspectFormat)
		}
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectInput, "input", "i", "-", "file of JSON payloads (- for stdin)")
	inspectCmd.Flags().StringVarP(&inspectKind, "kind", "k", postKind.name, "payload kind, as named by the normalize subcommands")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "text", "output format: text or yaml")
	inspectCmd.Flags().IntVar(&inspectWidth, "width", 80, "truncate values to this many columns (0 disables)")
	rootCmd.AddCommand(inspectCmd)
}

// writeListing prints the fields of each record in export order, then any
// extra field alphabetically, keys padded to a common display width.
func writeListing(w io.Writer, fields format.FieldSet, records []domain.Record, width int) error {
	for i, rec := range records {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}

		keys := listingKeys(fields, rec)
		keyWidth := 0
		for _, k := range keys {
			keyWidth = max(keyWidth, runewidth.StringWidth(k))
		}

		for _, k := range keys {
			value := listingValue(rec[k])
			if width > 0 {
				value = runewidth.Truncate(value, width, "...")
			}
			if _, err := fmt.Fprintf(w, "%s  %s\n", runewidth.FillRight(k, keyWidth), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func listingKeys(fields format.FieldSet, rec domain.Record) []string {
	keys := make([]string, 0, len(rec))
	known := format.NewSet(fields.Fields...)
	for _, f := range fields.Fields {
		if _, ok := rec[f]; ok {
			keys = append(keys, f)
		}
	}

	var extra []string
	for k := range rec {
		if !known.Has(k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return append(keys, extra...)
}

func listingValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	}
	s, err := format.Scalar(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

func writeYAML(w io.Writer, records []domain.Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, rec := range records {
		if err := enc.Encode(map[string]any(rec)); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
	}
	return eris.Wrap(enc.Close(), "close yaml encoder")
}
