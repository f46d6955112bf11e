package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	status int
	body   string
}

func (r *fakeResponse) StatusCode() int { return r.status }
func (r *fakeResponse) Bytes() []byte   { return []byte(r.body) }

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func testPolicy(rec *recorder) Policy {
	p := FixedChain()
	p.Sleep = rec.sleep
	return p
}

func TestFixedChain(t *testing.T) {
	p := FixedChain()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(3))
	assert.Equal(t, 60*time.Second, p.Delay(4))
	assert.Equal(t, 60*time.Second, p.Delay(9))
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 105*time.Second, p.TotalWait())
}

func TestDoSucceedsFirstTry(t *testing.T) {
	rec := &recorder{}
	calls := 0
	resp, err := Do(context.Background(), testPolicy(rec), zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			return &fakeResponse{status: 200, body: "ok"}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Bytes()))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	rec := &recorder{}
	calls := 0
	resp, err := Do(context.Background(), testPolicy(rec), zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			switch calls {
			case 1:
				return nil, errors.New("connection reset")
			case 2:
				return &fakeResponse{status: 503, body: "busy"}, nil
			}
			return &fakeResponse{status: 200}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
}

func TestDoExhaustsAttempts(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec), zerolog.Nop(), "upload chunk", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			return &fakeResponse{status: 500, body: "boom"}, nil
		})

	var rse *RemoteServerError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 500, rse.StatusCode)
	assert.Equal(t, "boom", string(rse.Body))
	assert.Equal(t, 5, rse.Attempts)
	assert.Equal(t, "upload chunk", rse.Op)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second}, rec.waits)

	var total time.Duration
	for _, w := range rec.waits {
		total += w
	}
	assert.Equal(t, 105*time.Second, total)
}

func TestDoExhaustsOnTransportError(t *testing.T) {
	rec := &recorder{}
	dialErr := errors.New("dial tcp: refused")
	_, err := Do(context.Background(), testPolicy(rec), zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			return nil, dialErr
		})

	var rse *RemoteServerError
	require.ErrorAs(t, err, &rse)
	assert.Zero(t, rse.StatusCode)
	assert.ErrorIs(t, err, dialErr)
	assert.Len(t, rec.waits, 4)
}

func TestDoSpecialCodesAccepted(t *testing.T) {
	rec := &recorder{}
	resp, err := Do(context.Background(), testPolicy(rec), zerolog.Nop(), "op", StatusIn(http.StatusOK, http.StatusNotFound),
		func(ctx context.Context) (*fakeResponse, error) {
			return &fakeResponse{status: 404}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode())
	assert.Empty(t, rec.waits)
}

func TestDoLogsFirstRetryAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	rec := &recorder{}

	_, err := Do(context.Background(), testPolicy(rec), log, "describe", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			return &fakeResponse{status: 502, body: "bad gateway"}, nil
		})
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var levels []string
	for i, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		levels = append(levels, entry["level"].(string))
		assert.Equal(t, "describe", entry["op"])
		assert.Equal(t, float64(i+1), entry["attempt"])
		assert.Equal(t, float64(502), entry["status"])
		assert.Equal(t, "bad gateway", entry["detail"])
	}
	assert.Equal(t, []string{"info", "warn", "warn", "warn"}, levels)
}

func TestDoCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := FixedChain()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := Do(ctx, p, zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			return &fakeResponse{status: 500}, nil
		})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, FixedChain(), zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			return &fakeResponse{status: 200}, nil
		})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, calls)
}

func TestDoRealTimer(t *testing.T) {
	p := Policy{MaxAttempts: 2, Delays: []time.Duration{10 * time.Millisecond}}
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), p, zerolog.Nop(), "op", StatusIn(http.StatusOK),
		func(ctx context.Context) (*fakeResponse, error) {
			calls++
			return &fakeResponse{status: 429}, nil
		})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
