package downloader

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/progress"
	"github.com/broadinstitute/terra-tools/internal/retry"
	"github.com/broadinstitute/terra-tools/pkg/tsv"
)

// DefaultPageSize is the number of entities requested per page.
const DefaultPageSize = 1000

// API is the part of the workspace API the downloader uses.
type API interface {
	ListEntityTypes(ctx context.Context, ws terrahttp.Workspace) (map[string]terrahttp.EntityType, error)
	QueryEntities(ctx context.Context, ws terrahttp.Workspace, entityType string, q terrahttp.Query) ([]terrahttp.Entity, error)
}

// Options configures the downloader.
type Options struct {
	// Workers is the number of pages fetched concurrently.
	// Default: 1
	Workers int

	// PageSize is the number of entities per page.
	// Default: DefaultPageSize
	PageSize int

	// Attributes restricts the exported attribute columns. Columns keep the
	// order of the entity type schema. Empty exports every attribute.
	Attributes []string

	// FilterTerms is passed to the entity query to filter results.
	FilterTerms string

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives progress and diagnostic messages.
	Logger zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
}

// UnknownEntityTypeError is returned when the requested entity type does not
// exist in the workspace.
type UnknownEntityTypeError struct {
	Requested string
	Available []string // Sorted
}

func (e *UnknownEntityTypeError) Error() string {
	return fmt.Sprintf("%s is not a valid entity type, valid entity types are: %v", e.Requested, e.Available)
}

// PageError is returned when a page could not be fetched or written.
type PageError struct {
	Page int // 1-based
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Schema is the resolved column layout of an export.
type Schema struct {
	EntityType string
	Count      int
	IDName     string
	Attributes []string
}

// Columns returns the row keys in output order. The identifier comes first.
func (s *Schema) Columns() []string {
	return append([]string{s.IDName}, s.Attributes...)
}

// Header returns the header line names in output order.
func (s *Schema) Header() []string {
	return append([]string{tsv.IDColumn(s.IDName)}, s.Attributes...)
}

// Pages returns the number of pages needed for pageSize entities per page.
func (s *Schema) Pages(pageSize int) int {
	if s.Count <= 0 || pageSize <= 0 {
		return 0
	}
	return (s.Count + pageSize - 1) / pageSize
}

// ResolveSchema looks up entityType in the workspace and computes the
// export columns.
func ResolveSchema(ctx context.Context, api API, ws terrahttp.Workspace, entityType string, opts Options) (*Schema, error) {
	types, err := api.ListEntityTypes(ctx, ws)
	if err != nil {
		return nil, errors.Wrap(err, "resolve schema")
	}

	et, ok := types[entityType]
	if !ok {
		available := make([]string, 0, len(types))
		for name := range types {
			available = append(available, name)
		}
		sort.Strings(available)
		return nil, &UnknownEntityTypeError{Requested: entityType, Available: available}
	}

	idName := et.IDName
	if idName == "" {
		idName = entityType + "_id"
	}

	attrs := et.AttributeNames
	if len(opts.Attributes) > 0 {
		attrs = make([]string, 0, len(opts.Attributes))
		for _, a := range et.AttributeNames {
			if slices.Contains(opts.Attributes, a) {
				attrs = append(attrs, a)
			}
		}
		for _, a := range opts.Attributes {
			if !slices.Contains(et.AttributeNames, a) {
				opts.Logger.Warn().Str("entity_type", entityType).Str("attribute", a).Msg("Requested attribute not in schema, skipping")
			}
		}
	}

	return &Schema{
		EntityType: entityType,
		Count:      et.Count,
		IDName:     idName,
		Attributes: slices.Clone(attrs),
	}, nil
}

// Result summarizes a download.
type Result struct {
	EntityType string
	Columns    []string // Header line names
	Rows       int
	Pages      int
	Empty      bool
}

type pageResult struct {
	index    int
	entities []terrahttp.Entity
	err      error
}

// countingWriter counts bytes passed to the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Download writes the entity table entityType to w as TSV: a header line
// followed by one line per entity, in ascending entity name order.
func Download(ctx context.Context, api API, ws terrahttp.Workspace, entityType string, w io.Writer, opts Options) (*Result, error) {
	opts.applyDefaults()
	log := opts.Logger.With().Str("entity_type", entityType).Logger()

	schema, err := ResolveSchema(ctx, api, ws, entityType, opts)
	if err != nil {
		return nil, err
	}

	cw := &countingWriter{w: w}
	tw, err := tsv.NewWriter(cw, schema.Columns(), schema.Header())
	if err != nil {
		return nil, errors.Wrap(err, "create writer")
	}

	res := &Result{
		EntityType: entityType,
		Columns:    schema.Header(),
	}

	pages := schema.Pages(opts.PageSize)
	opts.Progress.SetTotals(pages, int64(schema.Count))

	if pages == 0 {
		log.Info().Msg("Entity type has no entities, writing header only")
		if err := tw.WriteHeader(); err != nil {
			return nil, errors.Wrap(err, "write header")
		}
		if err := tw.Flush(); err != nil {
			return nil, errors.Wrap(err, "flush")
		}
		res.Empty = true
		return res, nil
	}

	log.Info().
		Int("count", schema.Count).
		Int("pages", pages).
		Int("page_size", opts.PageSize).
		Int("workers", opts.Workers).
		Msg("Downloading entity table")

	if err := tw.WriteHeader(); err != nil {
		return nil, errors.Wrap(err, "write header")
	}
	if err := tw.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush")
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan pageResult, opts.Workers)
	// One slot per page dispatched but not yet written.
	window := make(chan struct{}, 2*opts.Workers)

	go func() {
		defer close(jobs)
		for p := 1; p <= pages; p++ {
			select {
			case window <- struct{}{}:
			case <-fetchCtx.Done():
				return
			}
			select {
			case jobs <- p:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				opts.Progress.UnitStarted()
				entities, err := api.QueryEntities(fetchCtx, ws, entityType, terrahttp.Query{
					Page:          p,
					PageSize:      opts.PageSize,
					SortDirection: terrahttp.SortAsc,
					FilterTerms:   opts.FilterTerms,
				})
				if err != nil {
					opts.Progress.UnitFailed()
				} else {
					log.Debug().Int("page", p).Int("entities", len(entities)).Msg("Fetched page")
				}

				select {
				case results <- pageResult{index: p, entities: entities, err: err}:
				case <-fetchCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int][]terrahttp.Entity)
	next := 1
	var firstErr error

	for r := range results {
		if firstErr != nil {
			continue
		}
		if r.err != nil {
			firstErr = &PageError{Page: r.index, Err: r.err}
			cancel()
			continue
		}

		pending[r.index] = r.entities
		for {
			entities, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			before := cw.n
			if err := writePage(tw, schema, entities); err != nil {
				firstErr = &PageError{Page: next, Err: err}
				cancel()
				break
			}
			opts.Progress.UnitCompleted(len(entities), cw.n-before)
			res.Rows += len(entities)
			res.Pages++
			next++
			<-window
		}
	}

	if firstErr != nil {
		if ctx.Err() != nil {
			return nil, retry.Cancelled("download "+entityType, ctx.Err())
		}
		return nil, firstErr
	}
	if next <= pages {
		// Dispatch stopped early without a page error.
		return nil, retry.Cancelled("download "+entityType, ctx.Err())
	}

	if opts.FilterTerms == "" && res.Rows != schema.Count {
		log.Warn().Int("expected", schema.Count).Int("rows", res.Rows).Msg("Row count differs from entity count")
	}
	log.Info().Int("rows", res.Rows).Int("pages", res.Pages).Msg("Download complete")
	return res, nil
}

// writePage writes one page of entities and flushes the output.
func writePage(tw *tsv.Writer, schema *Schema, entities []terrahttp.Entity) error {
	for _, e := range entities {
		row := make(tsv.Row, len(schema.Attributes)+1)
		for _, a := range schema.Attributes {
			row[a] = e.Attributes[a]
		}
		row[schema.IDName] = e.Name
		if err := tw.WriteRow(row); err != nil {
			return err
		}
	}
	return tw.Flush()
}
