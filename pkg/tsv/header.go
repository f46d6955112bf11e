package tsv

import (
	"fmt"
	"regexp"
	"strings"
)

// IDPattern is the pattern the first header column must match for
// single-table uploads.
const IDPattern = `entity:<entity_type>_id`

// IDPrefix prefixes the identifier column of an entity table header.
const IDPrefix = "entity:"

var idColumnRe = regexp.MustCompile(`^entity:(.+)_id$`)

// MalformedHeaderError is returned when the first header column does not
// follow the `entity:<type>_id` convention.
type MalformedHeaderError struct {
	Source  string // File or URL the header was read from
	Header  string // The offending first column
	Pattern string
}

func (e *MalformedHeaderError) Error() string {
	src := e.Source
	if src == "" {
		src = "input"
	}
	return fmt.Sprintf("poorly formed entity tsv: the first header must be of the format `%s`, but in %s the first header is `%s`",
		e.Pattern, src, e.Header)
}

// Header is the parsed first line of a data table.
type Header struct {
	Line    string
	Columns []string
}

// ParseHeader splits a raw header line into columns. A leading UTF-8 byte
// order mark is dropped.
func ParseHeader(line string) Header {
	line = strings.TrimPrefix(line, "\ufeff")
	line = strings.TrimRight(line, "\r\n")
	return Header{
		Line:    line,
		Columns: strings.Split(line, "\t"),
	}
}

// EntityType returns the entity type named by the identifier column, or ""
// if the column does not follow the `entity:<type>_id` convention.
func (h Header) EntityType() string {
	if len(h.Columns) == 0 {
		return ""
	}
	m := idColumnRe.FindStringSubmatch(h.Columns[0])
	if m == nil {
		return ""
	}
	return m[1]
}

// Check validates the identifier column.
func (h Header) Check(source string) error {
	if h.EntityType() != "" {
		return nil
	}
	first := ""
	if len(h.Columns) > 0 {
		first = h.Columns[0]
	}
	return &MalformedHeaderError{Source: source, Header: first, Pattern: IDPattern}
}

// IDColumn renders the identifier column header for an id field name as
// reported by the API (for example "sample_id" becomes "entity:sample_id").
func IDColumn(idName string) string {
	if strings.HasPrefix(idName, IDPrefix) {
		return idName
	}
	return IDPrefix + idName
}
