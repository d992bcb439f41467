package commands

import (
	"fmt"
	goruntime "runtime"

	csvruntime "github.com/leapstack-labs/csvchat/internal/runtime"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display csvchat version and build information.

The build line names the analysis runtime: datasets are loaded into a
DuckDB table and questions are answered by generated Starlark code.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				_, _ = fmt.Fprintln(out, version)
				return
			}
			_, _ = fmt.Fprintf(out, "csvchat v%s\n", version)
			_, _ = fmt.Fprintln(out, "Chat with CSV files, built with Go and DuckDB")
			_, _ = fmt.Fprintf(out, "runtime: duckdb table %q, starlark analysis code\n", csvruntime.DatasetTable)
			_, _ = fmt.Fprintf(out, "go: %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print the version number only")
	return cmd
}
