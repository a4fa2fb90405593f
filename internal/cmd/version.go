package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionInfo = struct {
	version string
	commit  string
}{"dev", "unknown"}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit string) {
	versionInfo.version = version
	versionInfo.commit = commit
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fastlimit %s (%s)\n", versionInfo.version, versionInfo.commit)
		},
	}
}
