package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
)

func TestIsBucketURL(t *testing.T) {
	assert.True(t, IsBucketURL("gs://bucket/key.tsv"))
	assert.True(t, IsBucketURL("s3://bucket/dir/key.tsv?region=us-east-1"))
	assert.True(t, IsBucketURL("file:///tmp/out.tsv"))
	assert.False(t, IsBucketURL("out.tsv"))
	assert.False(t, IsBucketURL("/tmp/out.tsv"))
	assert.False(t, IsBucketURL(`C:\data\out.tsv`))
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		location string
		bucket   string
		key      string
	}{
		{"gs://bucket/key.tsv", "gs://bucket", "key.tsv"},
		{"gs://bucket/exports/2024/key.tsv", "gs://bucket", "exports/2024/key.tsv"},
		{"s3://bucket/key.tsv?region=us-east-1", "s3://bucket?region=us-east-1", "key.tsv"},
		{"file:///tmp/data/key.tsv", "file:///tmp/data", "key.tsv"},
		{"mem://b/key.tsv", "mem://b", "key.tsv"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			bucket, key, err := SplitURL(tt.location)
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}

	_, _, err := SplitURL("gs://bucket/")
	assert.Error(t, err)
	_, _, err = SplitURL("gs://bucket")
	assert.Error(t, err)
}

func TestLocalCommit(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "out.tsv")

	w, err := Create(ctx, dest)
	require.NoError(t, err)
	defer w.Abort()

	_, err = io.WriteString(w, "entity:sample_id\ns1\n")
	require.NoError(t, err)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "destination must not exist before commit")

	require.NoError(t, w.Commit())
	require.NoError(t, w.Abort(), "abort after commit is a no-op")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "entity:sample_id\ns1\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be gone")
}

func TestLocalAbort(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.tsv")

	w, err := Create(context.Background(), dest)
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.tsv"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "open", aerr.Op)
}

func TestBucketCommitSetsContentType(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	location := "file://" + filepath.ToSlash(dir) + "/sample.tsv"

	w, err := Create(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, location, w.Location())
	_, err = io.WriteString(w, "entity:sample_id\tcolor\ns1\tred\n")
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	bkt, err := blob.OpenBucket(ctx, "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	defer bkt.Close()
	attrs, err := bkt.Attributes(ctx, "sample.tsv")
	require.NoError(t, err)
	assert.Equal(t, ContentType, attrs.ContentType)
}

func TestBucketAbort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	location := "file://" + filepath.ToSlash(dir) + "/sample.tsv"

	w, err := Create(ctx, location)
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Commit(), "commit after abort is a no-op")

	_, err = Open(ctx, location)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, location, aerr.Location)
}

func TestMemBucketMissingObject(t *testing.T) {
	_, err := Open(context.Background(), "mem://scratch/missing.tsv")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestFileURLRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	location := "file://" + filepath.ToSlash(dir) + "/out.tsv"

	w, err := Create(ctx, location)
	require.NoError(t, err)
	_, err = io.WriteString(w, "entity:sample_id\ns1\n")
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	r, err := Open(ctx, location)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "entity:sample_id\ns1\n", string(data))
}
