// Package artifact reads and writes TSV artifacts on the local filesystem
// or in object storage.
//
// A location is either a local path or a bucket URL understood by
// gocloud.dev/blob, e.g. gs://bucket/exports/sample.tsv. Bucket URLs are
// split into the bucket (scheme, host and query) and the object key (path).
// For file:// URLs the bucket is the parent directory.
//
// Writes are atomic: nothing is visible at the destination until Commit.
//
//	w, err := artifact.Create(ctx, "gs://bucket/sample.tsv")
//	if err != nil {
//	    return err
//	}
//	defer w.Abort()
//
//	// write rows
//
//	return w.Commit()
package artifact
