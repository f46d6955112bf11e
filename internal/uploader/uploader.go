package uploader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/progress"
	"github.com/broadinstitute/terra-tools/internal/retry"
	"github.com/broadinstitute/terra-tools/pkg/tsv"
)

// API is the part of the workspace API the uploader uses.
type API interface {
	ImportEntities(ctx context.Context, ws terrahttp.Workspace, table []byte) error
}

// Options configures an upload.
type Options struct {
	// BlockSize is the number of data lines per chunk.
	// Default: tsv.DefaultBlockSize
	BlockSize int

	// Workers is the number of chunks submitted concurrently.
	// Default: 1
	Workers int

	// Strict stops the upload at the first failed chunk.
	Strict bool

	// CheckHeader requires the first column to be `entity:<type>_id`.
	CheckHeader bool

	// Source names the input in errors and logs.
	Source string

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives progress and diagnostic messages.
	Logger zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = tsv.DefaultBlockSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// ChunkError reports a chunk whose import failed.
type ChunkError struct {
	Index   int // 0-based
	Rows    int
	FirstID string
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d rows starting at %q): %v", e.Index, e.Rows, e.FirstID, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Result summarizes an upload.
type Result struct {
	Source     string
	EntityType string // Empty when the header does not name one
	Rows       int
	Chunks     int
	Uploaded   int           // Rows in chunks that were imported
	Failed     []*ChunkError // Sorted by chunk index
}

// OK reports whether every chunk was imported.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Upload splits the table read from r into chunks and imports each one.
//
// In the default mode Upload returns a nil error when only chunk imports
// failed; the failures are listed in Result.Failed. In strict mode the first
// failure is returned as a *ChunkError. A malformed header is reported
// before any request is made.
func Upload(ctx context.Context, api API, ws terrahttp.Workspace, r io.Reader, opts Options) (*Result, error) {
	opts.applyDefaults()
	log := opts.Logger.With().Str("source", opts.Source).Logger()

	splitter, err := tsv.NewSplitter(r,
		tsv.WithBlockSize(opts.BlockSize),
		tsv.WithHeaderCheck(opts.CheckHeader),
		tsv.WithSource(opts.Source),
	)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Source:     opts.Source,
		EntityType: splitter.Header().EntityType(),
	}
	log.Info().
		Str("entity_type", res.EntityType).
		Int("block_size", opts.BlockSize).
		Int("workers", opts.Workers).
		Msg("Uploading entity table")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var mu sync.Mutex

	for {
		if gctx.Err() != nil {
			break
		}
		chunk, err := splitter.Next(gctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			g.Wait()
			return nil, errors.Wrapf(err, "split %s", opts.Source)
		}

		res.Chunks++
		res.Rows += chunk.Rows()
		opts.Progress.SetTotals(res.Chunks, int64(res.Rows))

		g.Go(func() error {
			// A strict failure may have cancelled the group while this
			// chunk waited for a slot.
			if gctx.Err() != nil {
				return nil
			}
			opts.Progress.UnitStarted()
			body := chunk.Bytes()
			err := api.ImportEntities(gctx, ws, body)
			if err == nil {
				opts.Progress.UnitCompleted(chunk.Rows(), int64(len(body)))
				log.Debug().Int("chunk", chunk.Index).Int("rows", chunk.Rows()).Msg("Imported chunk")
				mu.Lock()
				res.Uploaded += chunk.Rows()
				mu.Unlock()
				return nil
			}
			opts.Progress.UnitFailed()
			if gctx.Err() != nil {
				return retry.Cancelled(fmt.Sprintf("import chunk %d", chunk.Index), gctx.Err())
			}

			cerr := &ChunkError{Index: chunk.Index, Rows: chunk.Rows(), FirstID: chunk.FirstID(), Err: err}
			logChunkFailure(log, cerr)

			mu.Lock()
			res.Failed = append(res.Failed, cerr)
			mu.Unlock()

			if opts.Strict {
				return cerr
			}
			return nil
		})
	}

	werr := g.Wait()
	sort.Slice(res.Failed, func(i, j int) bool {
		return res.Failed[i].Index < res.Failed[j].Index
	})

	if ctx.Err() != nil {
		return res, retry.Cancelled("upload "+opts.Source, ctx.Err())
	}
	if werr != nil {
		return res, werr
	}

	ev := log.Info()
	if !res.OK() {
		ev = log.Warn().Int("failed_chunks", len(res.Failed))
	}
	ev.Int("rows", res.Rows).Int("chunks", res.Chunks).Int("uploaded", res.Uploaded).Msg("Upload complete")
	return res, nil
}

func logChunkFailure(log zerolog.Logger, cerr *ChunkError) {
	ev := log.Error().
		Int("chunk", cerr.Index).
		Int("rows", cerr.Rows).
		Str("first_id", cerr.FirstID)
	var rse *retry.RemoteServerError
	if errors.As(cerr.Err, &rse) {
		ev = ev.Int("status", rse.StatusCode).Bytes("body", rse.Body)
	}
	ev.Err(cerr.Err).Msg("Chunk import failed")
}
