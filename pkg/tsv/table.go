package tsv

import (
	"context"
	"io"
	"strings"
)

// Table is an in-memory data table. Columns[0] is the identifier column.
type Table struct {
	Columns []string
	Rows    []Row
}

// ReadTable reads a whole table. Every row gets a value for every column;
// short lines are padded with empty strings.
func ReadTable(r io.Reader) (*Table, error) {
	s, err := NewSplitter(r, WithBlockSize(DefaultBlockSize))
	if err != nil {
		return nil, err
	}

	t := &Table{Columns: s.Header().Columns}
	for {
		chunk, err := s.Next(context.Background())
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		for _, line := range chunk.Lines {
			t.Rows = append(t.Rows, t.row(line))
		}
	}
}

func (t *Table) row(line string) Row {
	values := strings.Split(line, "\t")
	row := make(Row, len(t.Columns))
	for i, c := range t.Columns {
		if i < len(values) {
			row[c] = values[i]
		} else {
			row[c] = ""
		}
	}
	return row
}

// Write writes the table header followed by all rows.
func (t *Table) Write(w io.Writer) error {
	tw, err := NewWriter(w, t.Columns, nil)
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := tw.WriteRow(row); err != nil {
			return err
		}
	}
	return tw.Flush()
}
