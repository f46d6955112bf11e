package uploader

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/go-faster/errors"

	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/retry"
)

// ReadManifest parses a batch manifest: one table location per line. Blank
// lines and lines starting with # are skipped.
func ReadManifest(r io.Reader) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	return paths, nil
}

// OpenFunc opens a table location for reading.
type OpenFunc func(ctx context.Context, location string) (io.ReadCloser, error)

// FileResult is the outcome of one manifest entry.
type FileResult struct {
	Path   string
	Result *Result // Nil when the file could not be read or split
	Err    error
}

// OK reports whether the file was fully imported.
func (f FileResult) OK() bool {
	return f.Err == nil && f.Result != nil && f.Result.OK()
}

// ImportAll uploads each table in paths, one after another. Files are
// independent: a failed file does not roll back earlier ones. Without
// opts.Strict every file is attempted and ImportAll returns a nil error;
// failures are reported per file. With opts.Strict the first failure stops
// the batch and is returned.
func ImportAll(ctx context.Context, api API, ws terrahttp.Workspace, paths []string, open OpenFunc, opts Options) ([]FileResult, error) {
	results := make([]FileResult, 0, len(paths))

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, retry.Cancelled("import", err)
		}
		opts.Logger.Info().Str("path", path).Int("file", i+1).Int("files", len(paths)).Msg("Importing table")

		fr := importOne(ctx, api, ws, path, open, opts)
		results = append(results, fr)

		if errors.Is(fr.Err, retry.ErrCancelled) {
			return results, fr.Err
		}
		if fr.Err != nil {
			opts.Logger.Error().Err(fr.Err).Str("path", path).Msg("Table import failed")
		}
		if opts.Strict && !fr.OK() {
			if fr.Err != nil {
				return results, fr.Err
			}
			return results, fr.Result.Failed[0]
		}
	}
	return results, nil
}

func importOne(ctx context.Context, api API, ws terrahttp.Workspace, path string, open OpenFunc, opts Options) FileResult {
	rc, err := open(ctx, path)
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	defer rc.Close()

	opts.Source = path
	res, err := Upload(ctx, api, ws, rc, opts)
	return FileResult{Path: path, Result: res, Err: err}
}
