package tsv

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/go-faster/errors"
)

// DefaultBlockSize is the number of data lines per chunk used for large
// table uploads.
const DefaultBlockSize = 5000

// ErrEmpty is returned when a table has no header line.
var ErrEmpty = errors.New("tsv: table has no header")

// Options configures a Splitter.
type Options struct {
	BlockSize   int
	CheckHeader bool
	Source      string
}

// Option is a functional option for configuring a Splitter.
type Option func(*Options)

// WithBlockSize sets the number of data lines per chunk.
func WithBlockSize(n int) Option {
	return func(o *Options) {
		o.BlockSize = n
	}
}

// WithHeaderCheck enables validation of the identifier column before any
// chunk is produced.
func WithHeaderCheck(check bool) Option {
	return func(o *Options) {
		o.CheckHeader = check
	}
}

// WithSource sets the name reported in errors.
func WithSource(source string) Option {
	return func(o *Options) {
		o.Source = source
	}
}

// Chunk is a contiguous block of data lines prefixed by the table header.
// Chunks do not share buffers and can be submitted independently.
type Chunk struct {
	Index  int
	Header string
	Lines  []string
}

// Rows returns the number of data lines in the chunk.
func (c *Chunk) Rows() int {
	return len(c.Lines)
}

// FirstID returns the identifier of the first row, used to identify a chunk
// in reports.
func (c *Chunk) FirstID() string {
	if len(c.Lines) == 0 {
		return ""
	}
	id, _, _ := strings.Cut(c.Lines[0], "\t")
	return id
}

// Bytes serializes the chunk as a standalone table.
func (c *Chunk) Bytes() []byte {
	var b strings.Builder
	n := len(c.Header) + 1
	for _, l := range c.Lines {
		n += len(l) + 1
	}
	b.Grow(n)
	b.WriteString(c.Header)
	b.WriteByte('\n')
	for _, l := range c.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Splitter partitions a table into chunks. It is not safe for concurrent use;
// the chunks it returns are.
type Splitter struct {
	r      *bufio.Reader
	opts   Options
	header Header
	index  int
	rows   int
	done   bool
}

// NewSplitter reads the header from r and returns a Splitter positioned at
// the first data line.
func NewSplitter(r io.Reader, options ...Option) (*Splitter, error) {
	opts := Options{BlockSize: DefaultBlockSize}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.BlockSize <= 0 {
		return nil, errors.New("tsv: block size must be positive")
	}

	s := &Splitter{
		r:    bufio.NewReaderSize(r, 1<<20),
		opts: opts,
	}

	line, err := s.readLine()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	s.header = ParseHeader(line)

	if opts.CheckHeader {
		if err := s.header.Check(opts.Source); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Header returns the parsed table header.
func (s *Splitter) Header() Header {
	return s.header
}

// Rows returns the number of data lines consumed so far.
func (s *Splitter) Rows() int {
	return s.rows
}

// Next returns the next chunk. Returns io.EOF when the table is exhausted.
// Returns the context error if ctx is done.
func (s *Splitter) Next(ctx context.Context) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	chunk := &Chunk{
		Index:  s.index,
		Header: s.header.Line,
		Lines:  make([]string, 0, min(s.opts.BlockSize, 1024)),
	}

	for len(chunk.Lines) < s.opts.BlockSize {
		line, err := s.readLine()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", s.rows+2)
		}
		if line == "" {
			continue
		}
		chunk.Lines = append(chunk.Lines, line)
		s.rows++
	}

	if len(chunk.Lines) == 0 {
		return nil, io.EOF
	}
	s.index++
	return chunk, nil
}

// readLine returns the next line without its terminator. A final line
// without a trailing newline is returned before io.EOF.
func (s *Splitter) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
