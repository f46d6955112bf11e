package retry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// ErrCancelled is matched by errors returned when the context ends before an
// accepted response is received.
var ErrCancelled = errors.New("retry: cancelled")

// Response is the part of a remote response the retry loop inspects.
type Response interface {
	StatusCode() int
	Bytes() []byte
}

// Operation performs one attempt of a remote call.
type Operation[R Response] func(ctx context.Context) (R, error)

// Policy configures the retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delays holds the wait before each retry. Delays[i] is the wait after
	// attempt i+1 fails. When there are more retries than delays, the last
	// delay is reused.
	Delays []time.Duration

	// Sleep waits for d or until ctx is done. Default: a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FixedChain returns the schedule used for workspace API calls: 5 attempts,
// waiting 5s, 10s, 30s and 60s between them.
func FixedChain() Policy {
	return Policy{
		MaxAttempts: 5,
		Delays: []time.Duration{
			5 * time.Second,
			10 * time.Second,
			30 * time.Second,
			60 * time.Second,
		},
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// TotalWait returns the sum of all waits when every attempt fails.
func (p Policy) TotalWait() time.Duration {
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.Delay(i)
	}
	return total
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StatusIn returns a predicate accepting exactly the given status codes.
func StatusIn(codes ...int) func(int) bool {
	return func(code int) bool {
		return slices.Contains(codes, code)
	}
}

// RemoteServerError is returned when every attempt of a call failed. It is
// terminal: callers must not retry it again.
type RemoteServerError struct {
	Op         string
	StatusCode int // Zero when the last attempt failed before a response
	Body       []byte
	Attempts   int
	Err        error // Transport error of the last attempt, if any
}

func (e *RemoteServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: failed after %d attempts: status %d: %s", e.Op, e.Attempts, e.StatusCode, e.Body)
}

func (e *RemoteServerError) Unwrap() error {
	return e.Err
}

// Do runs op until accept approves the response status or the policy is
// exhausted. It returns the accepted response.
func Do[R Response](ctx context.Context, p Policy, log zerolog.Logger, name string, accept func(int) bool, op Operation[R]) (R, error) {
	var zero R
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		last    R
		lastErr error
		hasResp bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Cancelled(name, err)
		}

		resp, err := op(ctx)
		if err == nil && accept(resp.StatusCode()) {
			if attempt > 1 {
				log.Info().Str("op", name).Int("attempt", attempt).Msg("Call succeeded after retry")
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return zero, Cancelled(name, ctx.Err())
		}

		if err != nil {
			lastErr, hasResp = err, false
		} else {
			last, lastErr, hasResp = resp, nil, true
		}

		if attempt == maxAttempts {
			break
		}

		wait := p.Delay(attempt)
		ev := log.Warn()
		if attempt == 1 {
			ev = log.Info()
		}
		ev = ev.Str("op", name).Dur("wait", wait).Int("attempt", attempt).Int("max_attempts", maxAttempts)
		if hasResp {
			ev = ev.Int("status", last.StatusCode()).Str("detail", truncate(last.Bytes(), 512))
		} else {
			ev = ev.Err(lastErr)
		}
		ev.Msgf("Retrying %s in %s", name, wait)

		if err := p.sleep(ctx, wait); err != nil {
			return zero, Cancelled(name, err)
		}
	}

	rse := &RemoteServerError{Op: name, Attempts: maxAttempts}
	if hasResp {
		rse.StatusCode = last.StatusCode()
		rse.Body = last.Bytes()
	} else {
		rse.Err = lastErr
	}
	return zero, rse
}

// Cancelled returns an error for op matching both ErrCancelled and cause.
func Cancelled(op string, cause error) error {
	return errors.Wrap(fmt.Errorf("%w: %w", ErrCancelled, cause), op)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
