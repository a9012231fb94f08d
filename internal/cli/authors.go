package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ssmig/ssmig/internal/authmap"
	"github.com/ssmig/ssmig/internal/store"
)

// AuthorsData is the authors command's payload.
type AuthorsData struct {
	Authors []AuthorStatus `json:"authors"`
	Missing int            `json:"missing"`
}

// AuthorStatus is one legacy username and its mapping, if any.
type AuthorStatus struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Mapped   bool   `json:"mapped"`
}

func (d AuthorsData) String() string {
	var b strings.Builder
	for _, a := range d.Authors {
		if a.Mapped {
			fmt.Fprintf(&b, "%-20s %s <%s>\n", a.Username, a.Name, a.Email)
		} else {
			fmt.Fprintf(&b, "%-20s UNMAPPED\n", a.Username)
		}
	}
	fmt.Fprintf(&b, "%d authors, %d unmapped", len(d.Authors), d.Missing)
	return b.String()
}

// NewAuthorsCommand creates the authors command. It lists every author
// found in the extracted histories against the author map, so the map
// can be completed before the replay step makes an unmapped author
// fatal.
func NewAuthorsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		stagingDir    string
		authorMapPath string
	)

	cmd := &cobra.Command{
		Use:   "authors <repo-dir>",
		Short: "List extracted authors and their identity mappings",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAuthors(rootOpts, stagingDir, authorMapPath, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&stagingDir, "staging", "", "staging directory (default <repo-dir>/.ssmig)")
	cmd.Flags().StringVar(&authorMapPath, "authors", "", "path to YAML author map (required)")
	_ = cmd.MarkFlagRequired("authors")
	return cmd
}

func listAuthors(rootOpts *RootOptions, stagingDir, authorMapPath, repoDir string, cmd *cobra.Command) error {
	if stagingDir == "" {
		stagingDir = filepath.Join(repoDir, ".ssmig")
	}
	st, err := store.Open(filepath.Join(stagingDir, stagingDBName))
	if err != nil {
		return WrapExitError(ExitCommandError, "open staging database", err)
	}
	defer st.Close()

	m, err := authmap.Load(authorMapPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load author map", err)
	}

	authors, err := st.DistinctAuthors(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "read authors", err)
	}

	data := AuthorsData{}
	for _, username := range authors {
		s := AuthorStatus{Username: username}
		if id, ok := m.Lookup(username); ok {
			s.Name, s.Email, s.Mapped = id.Name, id.Email, true
		} else {
			data.Missing++
		}
		data.Authors = append(data.Authors, s)
	}

	out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
	if err := out.Success(data); err != nil {
		return err
	}
	if data.Missing > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d authors unmapped", data.Missing))
	}
	return nil
}
