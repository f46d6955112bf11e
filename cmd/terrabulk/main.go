// Command terrabulk moves large entity tables between TSV files and a
// workspace data API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/broadinstitute/terra-tools/internal/artifact"
	"github.com/broadinstitute/terra-tools/internal/config"
	"github.com/broadinstitute/terra-tools/internal/downloader"
	terrahttp "github.com/broadinstitute/terra-tools/internal/http"
	"github.com/broadinstitute/terra-tools/internal/retry"
	"github.com/broadinstitute/terra-tools/internal/uploader"
	"github.com/broadinstitute/terra-tools/pkg/tsv"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitRemoteError       = 3
	ExitUnknownEntityType = 4
	ExitMalformedHeader   = 5
	ExitStorageError      = 6
	ExitCancelled         = 7
	ExitChunkFailed       = 8
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, args, os.Stdout, os.Stderr)
}

// usageError marks errors caused by invalid flags or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// app holds state shared by the subcommands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath string
	flags      config.Config

	cfg     config.Config
	log     zerolog.Logger
	started bool
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if !a.started {
		err = &usageError{err: err}
	}
	return a.report(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "terrabulk",
		Short: "Bulk transfer of workspace entity tables",
		Long: `terrabulk exports and imports large entity tables between TSV files and a
workspace data API. Downloads are paged and reassembled in order; uploads are
split into fixed-size row blocks.

Examples:
  terrabulk -p my-project -w my-workspace list
  terrabulk -p my-project -w my-workspace download -e sample -o sample.tsv
  terrabulk -p my-project -w my-workspace download -e sample -o gs://bucket/sample.tsv
  terrabulk -p my-project -w my-workspace upload -f sample.tsv --block-size 2000
  terrabulk -p my-project -w my-workspace import -t tables.txt`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.flags.APIURL, "api-url", "", "workspace API base URL")
	pf.StringVarP(&a.flags.Project, "project", "p", "", "workspace billing project")
	pf.StringVarP(&a.flags.Workspace, "workspace", "w", "", "workspace name")
	pf.StringVar(&a.flags.Token, "token", "", "access token (default: application default credentials)")
	pf.IntVar(&a.flags.Workers, "workers", 0, "number of concurrent requests (default 1)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "log format: console or json (default console)")
	pf.BoolVar(&a.flags.Progress, "progress", false, "show progress output")

	root.AddCommand(
		a.listCommand(),
		a.downloadCommand(),
		a.uploadCommand(),
		a.importCommand(),
	)
	return root
}

// setup resolves the configuration: defaults, then the config file, then
// TERRABULK_ environment variables, then flags.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" {
		return nil
	}
	cfg := config.Default()
	if a.configPath != "" {
		fileCfg, err := config.LoadFromFile(a.configPath)
		if err != nil {
			return &usageError{err: err}
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return &usageError{err: err}
	}
	cfg = cfg.Merge(a.flags)

	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}
	if err := cfg.RequireWorkspace(); err != nil {
		return &usageError{err: err}
	}

	a.cfg = cfg
	a.log = newLogger(cfg, a.stderr)
	a.started = true
	a.log.Debug().Str("command", cmd.Name()).Str("workspace", cfg.Project+"/"+cfg.Workspace).Msg("Starting")
	return nil
}

func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.LogFormat == config.LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
}

func (a *app) workspace() terrahttp.Workspace {
	return terrahttp.Workspace{Project: a.cfg.Project, Name: a.cfg.Workspace}
}

func (a *app) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if a.cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.cfg.Token}), nil
	}
	ts, err := google.DefaultTokenSource(ctx, terrahttp.Scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "find application default credentials")
	}
	return ts, nil
}

func (a *app) client(ctx context.Context) (*terrahttp.Client, error) {
	ts, err := a.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return terrahttp.NewClient(terrahttp.Options{
		BaseURL:             a.cfg.APIURL,
		TokenSource:         ts,
		MaxIdleConnsPerHost: max(16, a.cfg.Workers*2),
		Retry:               a.cfg.RetryPolicy(),
		Logger:              a.log,
	})
}

// report prints err and returns the matching exit code.
func (a *app) report(err error) int {
	code := exitCode(err)
	fmt.Fprintf(a.stderr, "Error: %v\n", err)

	var rse *retry.RemoteServerError
	if code != ExitCancelled && errors.As(err, &rse) && len(rse.Body) > 0 {
		fmt.Fprintf(a.stderr, "Response (status %d): %s\n", rse.StatusCode, rse.Body)
	}

	var aerr *artifact.Error
	if artifact.IsNotFound(err) && errors.As(err, &aerr) {
		fmt.Fprintf(a.stderr, "Not found: %s does not exist\n", aerr.Location)
	}
	return code
}

func exitCode(err error) int {
	var (
		usage     *usageError
		unknown   *downloader.UnknownEntityTypeError
		malformed *tsv.MalformedHeaderError
		chunk     *uploader.ChunkError
		storage   *artifact.Error
		remote    *retry.RemoteServerError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, retry.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.As(err, &usage):
		return ExitInvalidArgs
	case errors.As(err, &unknown):
		return ExitUnknownEntityType
	case errors.As(err, &malformed):
		return ExitMalformedHeader
	case errors.As(err, &chunk):
		return ExitChunkFailed
	case errors.As(err, &storage):
		return ExitStorageError
	case errors.As(err, &remote):
		return ExitRemoteError
	default:
		return ExitGeneralError
	}
}
