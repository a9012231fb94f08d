package cli

import (
	"github.com/spf13/cobra"
)

// Version is the build version, stamped by the release process.
var Version = "dev"

// VersionData is the version command's payload.
type VersionData struct {
	Version string `json:"version"`
}

func (d VersionData) String() string {
	return "ssmig " + d.Version
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ssmig version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return out.Success(VersionData{Version: Version})
		},
	}
}
