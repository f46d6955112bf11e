// Package uploader imports large TSV entity tables into a workspace.
//
// A table is split into chunks of a fixed number of data lines, each
// prefixed by the header line, and every chunk is submitted as its own
// bulk import request. Chunks are independent: the import API upserts by
// entity name, so a resubmitted chunk converges to the same state.
//
// By default a failed chunk is reported and the remaining chunks are still
// attempted. In strict mode the first failure stops the upload.
//
//	res, err := uploader.Upload(ctx, client, ws, f, uploader.Options{
//	    BlockSize:   5000,
//	    CheckHeader: true,
//	    Source:      "samples.tsv",
//	})
package uploader
