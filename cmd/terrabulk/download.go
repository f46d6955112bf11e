package main

import (
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/broadinstitute/terra-tools/internal/artifact"
	"github.com/broadinstitute/terra-tools/internal/downloader"
	"github.com/broadinstitute/terra-tools/internal/progress"
)

func (a *app) downloadCommand() *cobra.Command {
	var (
		entityType  string
		output      string
		pageSize    int
		attributes  []string
		filterTerms string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Export an entity table to a TSV file or bucket object",
		Long: `Export an entity table to a TSV file or bucket object.

The output is written atomically: a local file or bucket object only appears
once every page has been written. Use "-" to write to stdout.

The identifier column is written as entity:<type>_id, so the output can be
uploaded again unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if entityType == "" {
				return &usageError{err: errors.New("--entity-type is required")}
			}
			if output == "" {
				output = entityType + ".tsv"
			}
			if cmd.Flags().Changed("page-size") {
				if pageSize <= 0 {
					return &usageError{err: errors.New("--page-size must be positive")}
				}
				a.cfg.PageSize = pageSize
			}

			ctx := cmd.Context()
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			var (
				w      io.Writer = a.stdout
				commit           = func() error { return nil }
				dest   string
			)
			if output != "-" {
				aw, err := artifact.Create(ctx, output)
				if err != nil {
					return err
				}
				defer aw.Abort()
				w, commit, dest = aw, aw.Commit, aw.Location()
			}

			var reporter *progress.Reporter
			if a.cfg.Progress {
				reporter = progress.NewReporter(progress.Options{
					Label:   "Downloading " + entityType,
					Unit:    "pages",
					Workers: a.cfg.Workers,
					Output:  a.stderr,
				})
				reporter.Start()
				defer reporter.Stop()
			}

			res, err := downloader.Download(ctx, client, a.workspace(), entityType, w, downloader.Options{
				Workers:     a.cfg.Workers,
				PageSize:    a.cfg.PageSize,
				Attributes:  attributes,
				FilterTerms: filterTerms,
				Progress:    reporter,
				Logger:      a.log,
			})
			if err != nil {
				return err
			}
			if err := commit(); err != nil {
				return err
			}

			if dest != "" {
				fmt.Fprintln(a.stderr, pterm.Success.Sprintf("Downloaded %d %s rows (%d pages) to %s",
					res.Rows, entityType, res.Pages, dest))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&entityType, "entity-type", "e", "", "entity type to export (required)")
	f.StringVarP(&output, "output", "o", "", `destination path or bucket URL, "-" for stdout (default <entity-type>.tsv)`)
	f.IntVarP(&pageSize, "page-size", "n", 0, "entities per page (default 1000)")
	f.StringSliceVarP(&attributes, "attributes", "a", nil, "attributes to export (default all)")
	f.StringVar(&filterTerms, "filter", "", "only export entities matching these filter terms")
	return cmd
}
