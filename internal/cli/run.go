package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssmig/ssmig/internal/migrate"
	"github.com/ssmig/ssmig/internal/sched"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/warn"
)

// stagingDBName is the staging database file inside the staging dir.
const stagingDBName = "ssmig.db"

// MigrateOptions holds flags shared by run and resume.
type MigrateOptions struct {
	*RootOptions
	StagingDir    string
	AuthorMapPath string
	DecoderPath   string
	DefaultBranch string
	RevTimeRange  int64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <source-dir> <repo-dir>",
		Short: "Migrate a legacy database into a fresh git repository",
		Long: `Run the full migration: scan the legacy database under <source-dir>,
extract every object's history through the decoder, reconstruct ordered
changesets, and replay them as commits into the git repository at
<repo-dir> (created if it does not exist).

Example:
  ssmig run --authors ./authors.yaml /srv/vss/PROJ ./proj-git`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(opts, args[0], args[1], false)
		},
	}

	addMigrateFlags(cmd, opts)
	return cmd
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <source-dir> <repo-dir>",
		Short: "Continue an interrupted migration",
		Long: `Resume a migration from the staging database's recorded cursor. Every
completed step is skipped; inside the replay step, work continues from
the first changeset that never made it into the retire transaction.

The flags must match the original run.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(opts, args[0], args[1], true)
		},
	}

	addMigrateFlags(cmd, opts)
	return cmd
}

func addMigrateFlags(cmd *cobra.Command, opts *MigrateOptions) {
	cmd.Flags().StringVar(&opts.StagingDir, "staging", "", "staging directory (default <repo-dir>/.ssmig)")
	cmd.Flags().StringVar(&opts.AuthorMapPath, "authors", "", "path to YAML author map (required)")
	cmd.Flags().StringVar(&opts.DecoderPath, "decoder", "ssphys", "path to the legacy decoder binary")
	cmd.Flags().StringVar(&opts.DefaultBranch, "branch", "main", "name of the primary branch")
	cmd.Flags().Int64Var(&opts.RevTimeRange, "timerange", sched.DefaultRevTimeRange, "scheduling window size in seconds")
	_ = cmd.MarkFlagRequired("authors")
}

func runMigration(opts *MigrateOptions, sourceDir, repoDir string, resume bool) error {
	configureLogging(opts.RootOptions)

	if _, err := os.Stat(sourceDir); err != nil {
		return WrapExitError(ExitCommandError, "source directory unreadable", err)
	}

	stagingDir := opts.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(repoDir, ".ssmig")
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "staging directory", err)
	}

	st, err := store.Open(filepath.Join(stagingDir, stagingDBName))
	if err != nil {
		return WrapExitError(ExitCommandError, "open staging database", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	warns := warn.New()
	pipe := migrate.New(migrate.Config{
		SourceDir:     sourceDir,
		RepoDir:       repoDir,
		StagingDir:    stagingDir,
		AuthorMapPath: opts.AuthorMapPath,
		DecoderPath:   opts.DecoderPath,
		DefaultBranch: opts.DefaultBranch,
		RevTimeRange:  opts.RevTimeRange,
	}, st, warns)

	if err := pipe.Run(ctx, resume); err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}
	return nil
}

// configureLogging installs the process-wide slog handler per the
// verbose flag.
func configureLogging(opts *RootOptions) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
