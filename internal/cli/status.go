package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ssmig/ssmig/internal/store"
)

// StatusData is the status command's payload.
type StatusData struct {
	RunID      string `json:"run_id"`
	Step       string `json:"step"`
	Actions    int64  `json:"actions"`
	Pending    int64  `json:"pending"`
	Retired    int64  `json:"retired"`
	Discarded  int64  `json:"discarded"`
	Changesets int64  `json:"changesets"`
	Labels     int64  `json:"labels"`
}

func (d StatusData) String() string {
	var b strings.Builder
	step := d.Step
	if step == "" {
		step = "(not started)"
	}
	fmt.Fprintf(&b, "run:        %s\n", d.RunID)
	fmt.Fprintf(&b, "last step:  %s\n", step)
	fmt.Fprintf(&b, "actions:    %d (%d pending, %d retired, %d discarded)\n",
		d.Actions, d.Pending, d.Retired, d.Discarded)
	fmt.Fprintf(&b, "changesets: %d\n", d.Changesets)
	fmt.Fprintf(&b, "labels:     %d", d.Labels)
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var stagingDir string

	cmd := &cobra.Command{
		Use:   "status <repo-dir>",
		Short: "Show migration progress from the staging database",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(rootOpts, stagingDir, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&stagingDir, "staging", "", "staging directory (default <repo-dir>/.ssmig)")
	return cmd
}

func showStatus(rootOpts *RootOptions, stagingDir, repoDir string, cmd *cobra.Command) error {
	if stagingDir == "" {
		stagingDir = filepath.Join(repoDir, ".ssmig")
	}
	dbPath := filepath.Join(stagingDir, stagingDBName)
	if _, err := os.Stat(dbPath); err != nil {
		return WrapExitError(ExitCommandError, "no staging database", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open staging database", err)
	}
	defer st.Close()

	ctx := context.Background()
	cursor, err := st.ReadCursor(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "read cursor", err)
	}
	stats, err := st.ReadStats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "read stats", err)
	}

	out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
	return out.Success(StatusData{
		RunID:      cursor.RunID,
		Step:       cursor.Step,
		Actions:    stats.Actions,
		Pending:    stats.Pending,
		Retired:    stats.Retired,
		Discarded:  stats.Discarded,
		Changesets: stats.Changesets,
		Labels:     stats.Labels,
	})
}
