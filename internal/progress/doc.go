// Package progress provides progress reporting for bulk transfers.
//
// A transfer is made of units (pages for downloads, chunks for uploads),
// each carrying a number of rows. The reporter writes human-readable status
// lines, including completion percentage, row rate, and ETA.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Label:      "Downloading sample",
//	    Unit:       "pages",
//	    TotalUnits: 3,
//	    TotalRows:  2500,
//	    Output:     os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as pages complete
//	reporter.UnitStarted()
//	reporter.UnitCompleted(1000, 48213)
//
// # Output Format
//
//	[terrabulk] Downloading sample
//	[terrabulk] Total rows: 2500 | Pages: 3 | Workers: 2
//	[terrabulk] Progress: 40.0% | 1000 / 2500 rows | 47.08 KiB | Rate: 812 rows/s | ETA: 2s
//	[terrabulk] Pages: 1 completed | 2 in-progress | 0 pending | 0 failed
package progress
