package artifact

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// ContentType is set on objects written to a bucket.
const ContentType = "text/tab-separated-values"

// Error reports a storage failure for a location.
type Error struct {
	Op       string
	Location string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the artifact does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || gcerrors.Code(err) == gcerrors.NotFound
}

// IsBucketURL reports whether location is a bucket URL rather than a local
// path.
func IsBucketURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	// Single letters are Windows drive letters.
	return len(u.Scheme) > 1 && strings.Contains(location, "://")
}

// SplitURL splits a bucket URL into the URL of its bucket and the object key.
func SplitURL(location string) (bucketURL, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", errors.Wrap(err, "parse bucket url")
	}

	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", errors.Errorf("no object key in %q", location)
		}
		b := url.URL{Scheme: u.Scheme, Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if b.Path == "" {
			b.Path = "/"
		}
		return b.String(), base, nil
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Errorf("no object key in %q", location)
	}
	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return b.String(), key, nil
}

// Writer writes one artifact. Exactly one of Commit or Abort takes effect;
// calling Abort after Commit is a no-op, so it can be deferred.
type Writer struct {
	w        io.Writer
	location string
	commit   func() error
	abort    func() error

	mu   sync.Mutex
	done bool
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Location returns the destination of the writer.
func (w *Writer) Location() string {
	return w.location
}

// Commit makes the written data visible at the destination.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	if err := w.commit(); err != nil {
		return &Error{Op: "commit", Location: w.location, Err: err}
	}
	return nil
}

// Abort discards the written data.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	if err := w.abort(); err != nil {
		return &Error{Op: "abort", Location: w.location, Err: err}
	}
	return nil
}

// Create opens a writer for location. Local files are written to a
// temporary file in the same directory and renamed on Commit.
func Create(ctx context.Context, location string) (*Writer, error) {
	if !IsBucketURL(location) {
		return createLocal(location)
	}

	bucketURL, key, err := SplitURL(location)
	if err != nil {
		return nil, &Error{Op: "create", Location: location, Err: err}
	}
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, &Error{Op: "open bucket", Location: bucketURL, Err: err}
	}

	w, err := newBucketWriter(ctx, bkt, key, location)
	if err != nil {
		bkt.Close()
		return nil, err
	}
	return w, nil
}

func newBucketWriter(ctx context.Context, bkt *blob.Bucket, key, location string) (*Writer, error) {
	wctx, cancel := context.WithCancel(ctx)
	bw, err := bkt.NewWriter(wctx, key, &blob.WriterOptions{ContentType: ContentType})
	if err != nil {
		cancel()
		return nil, &Error{Op: "create", Location: location, Err: err}
	}

	return &Writer{
		w:        bw,
		location: location,
		commit: func() error {
			defer cancel()
			if err := bw.Close(); err != nil {
				bkt.Close()
				return err
			}
			return bkt.Close()
		},
		abort: func() error {
			// Cancelling before Close discards the object.
			cancel()
			bw.Close()
			return bkt.Close()
		},
	}, nil
}

func createLocal(location string) (*Writer, error) {
	dir, base := filepath.Split(location)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, &Error{Op: "create", Location: location, Err: err}
	}

	return &Writer{
		w:        f,
		location: location,
		commit: func() error {
			if err := f.Close(); err != nil {
				os.Remove(f.Name())
				return err
			}
			if err := os.Rename(f.Name(), location); err != nil {
				os.Remove(f.Name())
				return err
			}
			return nil
		},
		abort: func() error {
			f.Close()
			return os.Remove(f.Name())
		},
	}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error {
	return r.close()
}

// Open opens location for reading.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsBucketURL(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, &Error{Op: "open", Location: location, Err: err}
		}
		return f, nil
	}

	bucketURL, key, err := SplitURL(location)
	if err != nil {
		return nil, &Error{Op: "open", Location: location, Err: err}
	}
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, &Error{Op: "open bucket", Location: bucketURL, Err: err}
	}

	r, err := bkt.NewReader(ctx, key, nil)
	if err != nil {
		bkt.Close()
		return nil, &Error{Op: "open", Location: location, Err: err}
	}
	return &readCloser{
		Reader: r,
		close: func() error {
			err := r.Close()
			if cerr := bkt.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}
