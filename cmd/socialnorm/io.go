package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/format"
)

// Output formats.
const (
	formatCSV   = "csv"
	formatJSONL = "jsonl"
)

// readPayloads decodes every JSON value of r, one payload per value. Numbers
// are kept as json.Number so that 64-bit ids survive.
func readPayloads(r io.Reader) ([]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var payloads []any
	for {
		var v any
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return payloads, nil
			}
			return nil, eris.Wrapf(err, "decode payload %d", len(payloads)+1)
		}
		payloads = append(payloads, v)
	}
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open input %s", path)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "create output %s", path)
	}
	return f, nil
}

// recordWriter streams records to an output.
type recordWriter interface {
	Write(rec domain.Record) error
	Flush() error
}

func newRecordWriter(w io.Writer, outputFormat string, fields format.FieldSet) (recordWriter, error) {
	switch outputFormat {
	case formatCSV:
		return &csvRecordWriter{w: csv.NewWriter(w), fields: fields, format: fields.Formatter()}, nil
	case formatJSONL:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return jsonlRecordWriter{enc: enc}, nil
	default:
		return nil, eris.Errorf("unknown output format %q", outputFormat)
	}
}

// csvRecordWriter writes a header row then one row per record.
type csvRecordWriter struct {
	w           *csv.Writer
	fields      format.FieldSet
	format      format.RowFormatter
	wroteHeader bool
}

func (c *csvRecordWriter) header() error {
	if c.wroteHeader {
		return nil
	}
	c.wroteHeader = true
	return c.w.Write(c.fields.Fields)
}

func (c *csvRecordWriter) Write(rec domain.Record) error {
	if err := c.header(); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	row, err := c.format(rec)
	if err != nil {
		return err
	}
	return eris.Wrap(c.w.Write(row), "write csv row")
}

func (c *csvRecordWriter) Flush() error {
	if err := c.header(); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	c.w.Flush()
	return eris.Wrap(c.w.Error(), "flush csv")
}

type jsonlRecordWriter struct {
	enc *json.Encoder
}

func (j jsonlRecordWriter) Write(rec domain.Record) error {
	return eris.Wrap(j.enc.Encode(rec), "write json line")
}

func (jsonlRecordWriter) Flush() error { return nil }

// writeRecords writes records to path in outputFormat.
func writeRecords(cmd *cobra.Command, path, outputFormat string, fields format.FieldSet, records []domain.Record) error {
	out, err := openOutput(cmd, path)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := newRecordWriter(out, outputFormat, fields)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return eris.Wrap(out.Close(), "close output")
}
