package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"xspecfit/pkg/xspecfit"
)

const defaultDBPath = "xspecfit.db"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	store    string
	dbPath   string
	logLevel string
	jsonLogs bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "xspecfit",
		Short:         "Fit X-ray spectral models to observed spectra",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.store, "store", "", "store backend: memory|sqlite (default from config, else memory)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", defaultDBPath, "sqlite database path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "force JSON logs even on a terminal")

	root.AddCommand(
		newFitCommand(flags),
		newRunsCommand(flags),
		newShowCommand(flags),
		newDeleteCommand(flags),
		newExportCommand(flags),
		newComponentsCommand(),
	)
	return root
}

// newLogger writes text logs to a terminal and JSON logs otherwise.
func newLogger(w io.Writer, flags *globalFlags) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", flags.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && !flags.jsonLogs && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func openClient(cmd *cobra.Command, flags *globalFlags, storeKind string, opts xspecfit.Options) (*xspecfit.Client, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), flags)
	if err != nil {
		return nil, err
	}
	if flags.store != "" {
		storeKind = flags.store
	}
	opts.StoreKind = storeKind
	if opts.DBPath == "" {
		opts.DBPath = flags.dbPath
	}
	opts.Logger = logger
	client, err := xspecfit.New(opts)
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
