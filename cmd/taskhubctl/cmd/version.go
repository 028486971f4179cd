package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskhub.org/internal/obs"
)

// Set with -ldflags "-X taskhub.org/cmd/taskhubctl/cmd.Version=...".
var (
	Version = "0.1.0"
	Commit  = "dev"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs.InitBuildInfo(Version, Commit)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "taskhubctl %s (%s)\n", Version, Commit)
			return err
		},
	}
}
