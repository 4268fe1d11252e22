package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glitchy/common/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Name, version.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit:  %s\n", version.GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "built:   %s\n", version.BuildTime)
			return nil
		},
	}
}
