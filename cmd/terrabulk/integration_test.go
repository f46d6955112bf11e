//go:build integration

package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadinstitute/terra-tools/internal/artifact"
	"github.com/broadinstitute/terra-tools/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-test-bucket")

	src := testutils.NewFakeWorkspace(t, "proj", "source")
	src.Seed("sample", 1234, "color", "size")
	dst := testutils.NewFakeWorkspace(t, "proj", "dest")

	object := minio.ObjectURL("exports/sample.tsv")

	t.Run("download_to_bucket", func(t *testing.T) {
		res := runCLI(t, src, "--workers", "4", "download", "-e", "sample", "-o", object, "-n", "100")
		require.Equal(t, ExitSuccess, res.code, res.stderr)

		r, err := artifact.Open(ctx, object)
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, testutils.SampleTable("sample", 1234, "color", "size"), string(data))
	})

	t.Run("upload_from_bucket", func(t *testing.T) {
		res := runCLI(t, dst, "--workers", "2", "upload", "-f", object, "--block-size", "500")
		require.Equal(t, ExitSuccess, res.code, res.stderr)
		assert.Len(t, dst.Imports(), 3)
		assert.Equal(t, src.Entities("sample"), dst.Entities("sample"))
	})

	t.Run("missing_object", func(t *testing.T) {
		res := runCLI(t, dst, "upload", "-f", minio.ObjectURL("exports/missing.tsv"))
		assert.Equal(t, ExitStorageError, res.code)
	})
}
