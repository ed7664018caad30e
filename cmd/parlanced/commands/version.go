package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/parlancehq/parlance/cmd/parlanced/internal/build"
)

var versionVerbose bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(build.String())
		if versionVerbose {
			fmt.Printf("  go: %s\n", runtime.Version())
		}
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(versionCmd)
}
