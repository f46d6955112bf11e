//go:build integration

package downloader_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadinstitute/terra-tools/internal/artifact"
	"github.com/broadinstitute/terra-tools/internal/downloader"
	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/retry"
	"github.com/broadinstitute/terra-tools/internal/testutils"
)

func TestIntegrationDownloadToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	env := testutils.StartMinioContainer(t, ctx, "exports")

	fake := testutils.NewFakeWorkspace(t, "proj", "ws")
	fake.Seed("sample", 2500, "color", "size")
	fake.FailNext(503)

	client, err := terrahttp.NewClient(terrahttp.Options{
		BaseURL: fake.URL(),
		Retry:   retry.Policy{MaxAttempts: 3, Delays: []time.Duration{10 * time.Millisecond}},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	location := env.ObjectURL("tables/sample.tsv")
	w, err := artifact.Create(ctx, location)
	require.NoError(t, err)
	defer w.Abort()

	ws := terrahttp.Workspace{Project: "proj", Name: "ws"}
	res, err := downloader.Download(ctx, client, ws, "sample", w, downloader.Options{
		Workers:  4,
		PageSize: 100,
	})
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.Equal(t, 2500, res.Rows)
	assert.Equal(t, 25, res.Pages)

	r, err := artifact.Open(ctx, location)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2501)
	assert.Equal(t, "entity:sample_id\tcolor\tsize", lines[0])
	assert.Equal(t, "sample000000\tcolor-0\tsize-0", lines[1])
	assert.Equal(t, "sample002499\tcolor-2499\tsize-2499", lines[2500])
}
