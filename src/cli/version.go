package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"repo-backup/src/version"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "repo-backup %s (%s)\n", version.Version, runtime.Version())
		},
	}
}
