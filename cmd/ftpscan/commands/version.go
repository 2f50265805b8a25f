package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, overridden at link time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewVersionCommand reports the build version of the executable.
func NewVersionCommand(executable string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Print the %s version", executable),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("%s %s (commit %s, built %s, %s)\n", executable, version, commit, date, runtime.Version())
		},
	}
}
