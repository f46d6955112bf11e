package main

import (
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/broadinstitute/terra-tools/internal/artifact"
	"github.com/broadinstitute/terra-tools/internal/progress"
	"github.com/broadinstitute/terra-tools/internal/uploader"
)

// transferFlags are the flags shared by upload and import.
type transferFlags struct {
	blockSize int
	strict    bool
}

func (t *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&t.blockSize, "block-size", 0, "data rows per import request (default 5000)")
	cmd.Flags().BoolVar(&t.strict, "strict", false, "stop at the first failed block")
}

func (a *app) uploaderOptions(cmd *cobra.Command, t *transferFlags) (uploader.Options, error) {
	if cmd.Flags().Changed("block-size") {
		if t.blockSize <= 0 {
			return uploader.Options{}, &usageError{err: errors.New("--block-size must be positive")}
		}
		a.cfg.BlockSize = t.blockSize
	}
	if t.strict {
		a.cfg.Strict = true
	}
	return uploader.Options{
		BlockSize: a.cfg.BlockSize,
		Workers:   a.cfg.Workers,
		Strict:    a.cfg.Strict,
		Logger:    a.log,
	}, nil
}

func (a *app) newReporter(label string) *progress.Reporter {
	if !a.cfg.Progress {
		return nil
	}
	r := progress.NewReporter(progress.Options{
		Label:   label,
		Unit:    "chunks",
		Workers: a.cfg.Workers,
		Output:  a.stderr,
	})
	r.Start()
	return r
}

func (a *app) uploadCommand() *cobra.Command {
	var (
		file string
		tf   transferFlags
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Import one TSV entity table in fixed-size blocks",
		Long: `Import one TSV entity table in fixed-size blocks.

The first header column must be entity:<type>_id. Each block of rows is sent
as its own import request together with the header. Failed blocks are
reported and the remaining blocks are still imported unless --strict is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return &usageError{err: errors.New("--file is required")}
			}
			opts, err := a.uploaderOptions(cmd, &tf)
			if err != nil {
				return err
			}
			opts.CheckHeader = true
			opts.Source = file

			ctx := cmd.Context()
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			rc, err := artifact.Open(ctx, file)
			if err != nil {
				return err
			}
			defer rc.Close()

			opts.Progress = a.newReporter("Uploading " + file)
			res, err := uploader.Upload(ctx, client, a.workspace(), rc, opts)
			opts.Progress.Stop()
			if res != nil {
				a.printFailures(res)
			}
			if err != nil {
				return err
			}

			a.printUploadSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "TSV file path or bucket URL (required)")
	tf.register(cmd)
	return cmd
}

func (a *app) importCommand() *cobra.Command {
	var (
		manifest string
		tf       transferFlags
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import every TSV table listed in a manifest",
		Long: `Import every TSV table listed in a manifest.

The manifest lists one table path or bucket URL per line; blank lines and
lines starting with # are ignored. Tables are imported one after another,
each in fixed-size blocks. A failed table does not undo earlier ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifest == "" {
				return &usageError{err: errors.New("--manifest is required")}
			}
			opts, err := a.uploaderOptions(cmd, &tf)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			mr, err := artifact.Open(ctx, manifest)
			if err != nil {
				return err
			}
			paths, err := uploader.ReadManifest(mr)
			mr.Close()
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return &usageError{err: errors.Errorf("manifest %s lists no tables", manifest)}
			}

			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			opts.Progress = a.newReporter(fmt.Sprintf("Importing %d tables", len(paths)))
			results, err := uploader.ImportAll(ctx, client, a.workspace(), paths, artifact.Open, opts)
			opts.Progress.Stop()

			a.printImportSummary(results)
			for _, fr := range results {
				if fr.Result != nil {
					a.printFailures(fr.Result)
				}
			}
			if err != nil {
				return err
			}

			var (
				failed   int
				firstErr error
			)
			for _, fr := range results {
				if fr.Err != nil {
					failed++
					if firstErr == nil {
						firstErr = fr.Err
					}
				}
			}
			if firstErr != nil {
				return errors.Wrapf(firstErr, "%d of %d tables failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "t", "", "manifest file path or bucket URL (required)")
	tf.register(cmd)
	return cmd
}

func (a *app) printUploadSummary(res *uploader.Result) {
	if res.OK() {
		fmt.Fprintln(a.stderr, pterm.Success.Sprintf("upload complete: %d rows processed in %d chunks", res.Rows, res.Chunks))
		return
	}
	fmt.Fprintln(a.stderr, pterm.Warning.Sprintf("upload complete: %d rows processed, %d imported, %d of %d chunks failed",
		res.Rows, res.Uploaded, len(res.Failed), res.Chunks))
}

func (a *app) printFailures(res *uploader.Result) {
	if res.OK() {
		return
	}
	data := pterm.TableData{{"SOURCE", "CHUNK", "ROWS", "FIRST ID", "ERROR"}}
	for _, f := range res.Failed {
		data = append(data, []string{
			res.Source,
			strconv.Itoa(f.Index),
			strconv.Itoa(f.Rows),
			f.FirstID,
			f.Err.Error(),
		})
	}
	if table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender(); err == nil {
		fmt.Fprintln(a.stderr, table)
	}
}

func (a *app) printImportSummary(results []uploader.FileResult) {
	if len(results) == 0 {
		return
	}
	data := pterm.TableData{{"TABLE", "ENTITY TYPE", "ROWS", "CHUNKS", "STATUS"}}
	for _, fr := range results {
		row := []string{fr.Path, "", "", "", "ok"}
		if fr.Result != nil {
			row[1] = fr.Result.EntityType
			row[2] = strconv.Itoa(fr.Result.Rows)
			row[3] = strconv.Itoa(fr.Result.Chunks)
			if !fr.Result.OK() {
				row[4] = fmt.Sprintf("%d chunks failed", len(fr.Result.Failed))
			}
		}
		if fr.Err != nil {
			row[4] = "error: " + fr.Err.Error()
		}
		data = append(data, row)
	}
	if table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender(); err == nil {
		fmt.Fprintln(a.stdout, table)
	}
}
