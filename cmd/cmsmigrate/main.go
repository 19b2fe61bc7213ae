package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cms_migrator/internal/config"
	"cms_migrator/internal/db"
	httpserver "cms_migrator/internal/http"
	"cms_migrator/internal/ledger"
	"cms_migrator/internal/logging"
	"cms_migrator/internal/migrate"
	"cms_migrator/internal/report"
)

var version = "dev"

const (
	exitOK         = 0
	exitFatal      = 1
	exitGateClosed = 2
	exitDrift      = 3
	exitExecution  = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(afero.NewOsFs(), stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var drift *migrate.DriftError
	var execErr *migrate.ExecutionError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, migrate.ErrGateClosed):
		return exitGateClosed
	case errors.As(err, &drift):
		return exitDrift
	case errors.As(err, &execErr), errors.Is(err, ledger.ErrDuplicateEntry):
		return exitExecution
	default:
		return exitFatal
	}
}

type options struct {
	fs         afero.Fs
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
	logFormat  string
	output     string
	dryRun     bool
	status     bool
}

func newRootCmd(fs afero.Fs, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{fs: fs, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "cmsmigrate",
		Short: "Apply pending CMS schema migrations",
		Long: `cmsmigrate discovers versioned .sql files, compares them with the
migration ledger and applies the pending ones in name order.

Schema changes only run when allow_schema_changes is set
(CMSMIGRATE_ALLOW_SCHEMA_CHANGES=true). --status and --dry-run never
change anything.

Exit codes: 0 success, 1 unexpected error, 2 safety gate closed,
3 applied migration modified (drift), 4 migration failed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := migrate.ModeApply
			switch {
			case opts.status:
				mode = migrate.ModeStatus
			case opts.dryRun:
				mode = migrate.ModeDryRun
			}
			return runMode(cmd.Context(), opts, mode)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./cmsmigrate.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	pf.StringVarP(&opts.output, "output", "o", "text", "report format: text, json or yaml")

	root.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the statements that would run without executing them")
	root.Flags().BoolVar(&opts.status, "status", false, "report applied and pending migrations")
	root.MarkFlagsMutuallyExclusive("dry-run", "status")

	root.AddCommand(
		newModeCmd(opts, "status", "Report applied and pending migrations", migrate.ModeStatus),
		newModeCmd(opts, "plan", "Print the statements that would run without executing them", migrate.ModeDryRun),
		newServeCmd(opts),
		newInitConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newModeCmd(opts *options, use, short string, mode migrate.Mode) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd.Context(), opts, mode)
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only migration status, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, dialect, logger, err := setup(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddress = addr
			}
			database, err := db.Open(cmd.Context(), dialect, cfg.DSN)
			if err != nil {
				return err
			}
			defer database.Close()

			runner := newRunner(opts, cfg, dialect, logger)
			return httpserver.New(cfg.HTTPAddress, logger, database, dialect, runner).Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

func newInitConfigCmd(opts *options) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Create a starter cmsmigrate.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteSample(opts.fs, path); err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, "sample config written to", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "cmsmigrate.yaml", "where to write the sample config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cmsmigrate", version)
		},
	}
}

func runMode(ctx context.Context, opts *options, mode migrate.Mode) error {
	format, err := report.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	cfg, dialect, logger, err := setup(opts)
	if err != nil {
		return err
	}

	rep, runErr := newRunner(opts, cfg, dialect, logger).Run(ctx, mode)
	if errors.Is(runErr, migrate.ErrGateClosed) {
		runErr = fmt.Errorf("%w (set allow_schema_changes or CMSMIGRATE_ALLOW_SCHEMA_CHANGES=true)", runErr)
	}
	if err := report.NewPrinter(opts.stdout, format).Print(rep); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func setup(opts *options) (config.Config, db.Dialect, *slog.Logger, error) {
	cfg, err := config.Load(opts.fs, opts.configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, nil, err
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, opts.stderr)
	logger.Debug("configuration loaded", "file", cfg.File, "engine", dialect.Name(), "search_paths", cfg.SearchPaths)
	return cfg, dialect, logger, nil
}

func newRunner(opts *options, cfg config.Config, dialect db.Dialect, logger *slog.Logger) *migrate.Runner {
	return migrate.NewRunner(migrate.Options{
		Dialect:     dialect,
		Roots:       cfg.SearchPaths,
		LedgerTable: cfg.LedgerTable,
		AllowDrift:  cfg.AllowDrift,
		Gate:        migrate.NewGate(cfg.AllowSchemaChanges),
		Fs:          opts.fs,
		Logger:      logger,
	}, func(ctx context.Context) (*sql.DB, error) {
		return db.Open(ctx, dialect, cfg.DSN)
	})
}
