package http_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/retry"
	"github.com/broadinstitute/terra-tools/internal/testutils"
)

func newFakeClient(t *testing.T, fake *testutils.FakeWorkspace) *terrahttp.Client {
	t.Helper()
	c, err := terrahttp.NewClient(terrahttp.Options{
		BaseURL: fake.URL(),
		Retry:   retry.Policy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestFakeWorkspaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := testutils.NewFakeWorkspace(t, "proj", "my ws")
	ws := terrahttp.Workspace{Project: "proj", Name: "my ws"}
	c := newFakeClient(t, fake)

	require.NoError(t, c.ImportEntities(ctx, ws, []byte(testutils.SampleTable("sample", 5, "color", "size"))))

	types, err := c.ListEntityTypes(ctx, ws)
	require.NoError(t, err)
	require.Contains(t, types, "sample")
	assert.Equal(t, 5, types["sample"].Count)
	assert.Equal(t, "sample_id", types["sample"].IDName)
	assert.Equal(t, []string{"color", "size"}, types["sample"].AttributeNames)

	page, err := c.QueryEntities(ctx, ws, "sample", terrahttp.Query{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "sample000002", page[0].Name)
	assert.Equal(t, "color-2", page[0].Attributes["color"])
	assert.Equal(t, "sample000003", page[1].Name)

	q := fake.Queries()[0]
	assert.Equal(t, "asc", q.Get("sortDirection"))
}

func TestFakeWorkspaceTransientFailure(t *testing.T) {
	ctx := context.Background()
	fake := testutils.NewFakeWorkspace(t, "proj", "ws")
	fake.Seed("sample", 3)
	fake.FailNext(http.StatusServiceUnavailable, http.StatusBadGateway)

	types, err := newFakeClient(t, fake).ListEntityTypes(ctx, terrahttp.Workspace{Project: "proj", Name: "ws"})
	require.NoError(t, err)
	assert.Equal(t, 3, types["sample"].Count)
	assert.Equal(t, 3, fake.Requests())
}
