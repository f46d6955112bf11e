// Package downloader exports an entity table from a workspace into a single
// TSV stream.
//
// The table is read page by page from the paginated entity query API. Pages
// are fetched by a bounded worker pool and written strictly in page order,
// regardless of the order in which fetches complete.
//
// # Usage
//
//	res, err := downloader.Download(ctx, client, ws, "sample", w, downloader.Options{
//	    Workers:  4,
//	    PageSize: 1000,
//	    Progress: reporter,
//	    Logger:   log,
//	})
//
// # Worker Pool
//
// A dispatcher hands page indices to workers over a channel. Completed pages
// land in a reordering buffer keyed by page index; the lowest pending page is
// written as soon as it arrives. The dispatcher never runs more than twice
// the worker count ahead of the last written page, which bounds memory.
//
// # Failure
//
// The first failed page cancels outstanding fetches. Output already written
// is not rolled back; callers writing to storage discard it on error.
package downloader
