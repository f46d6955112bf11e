package tsv

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-faster/errors"
)

// Row maps column names to values.
type Row map[string]string

// InvalidValueError is returned by WriteRow when a value contains a tab or
// line break, which would shift or split the row.
type InvalidValueError struct {
	ID     string // Identifier column value of the row
	Column string
	Value  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("tsv: value of %s for %s contains a tab or line break: %q", e.Column, e.ID, e.Value)
}

// Writer streams rows of a fixed column set as tab-separated lines.
type Writer struct {
	w       *bufio.Writer
	columns []string
	header  []string
	rows    int
	wrote   bool
}

// NewWriter returns a Writer for the given columns. header, when non-nil,
// overrides the names written on the header line; it must have the same
// length as columns.
func NewWriter(w io.Writer, columns, header []string) (*Writer, error) {
	if len(columns) == 0 {
		return nil, errors.New("tsv: no columns")
	}
	if header == nil {
		header = columns
	}
	if len(header) != len(columns) {
		return nil, errors.Errorf("tsv: header has %d names for %d columns", len(header), len(columns))
	}
	return &Writer{
		w:       bufio.NewWriterSize(w, 256*1024),
		columns: columns,
		header:  header,
	}, nil
}

// WriteHeader writes the header line. It is a no-op after the first call.
func (tw *Writer) WriteHeader() error {
	if tw.wrote {
		return nil
	}
	tw.wrote = true
	return tw.writeLine(tw.header)
}

// WriteRow writes one row, filling absent columns with empty strings. A
// value containing a tab, CR or LF is rejected with *InvalidValueError and
// nothing is written for the row.
func (tw *Writer) WriteRow(row Row) error {
	values := make([]string, len(tw.columns))
	for i, c := range tw.columns {
		v := row[c]
		if strings.ContainsAny(v, "\t\r\n") {
			return &InvalidValueError{ID: row[tw.columns[0]], Column: tw.header[i], Value: v}
		}
		values[i] = v
	}
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	if err := tw.writeLine(values); err != nil {
		return err
	}
	tw.rows++
	return nil
}

// Rows returns the number of data rows written.
func (tw *Writer) Rows() int {
	return tw.rows
}

// Flush writes buffered data to the underlying writer.
func (tw *Writer) Flush() error {
	return tw.w.Flush()
}

func (tw *Writer) writeLine(values []string) error {
	if _, err := tw.w.WriteString(strings.Join(values, "\t")); err != nil {
		return err
	}
	return tw.w.WriteByte('\n')
}
