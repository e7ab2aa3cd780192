// reportpipe publishes versioned test reports: it imports raw results into
// the result-management service, attaches the rendered reports to the
// execution issue and publishes a summary page to the wiki.
//
// Usage:
//
//	reportpipe publish           --archive=<results.zip> --project=<KEY> [--job-url=<url>]
//	reportpipe import-results    --archive=<results.zip> --project=<KEY> [--job-url=<url>]
//	reportpipe create-execution  --project=<KEY> [--summary=<text>]
//	reportpipe attach-reports    [--execution-key=<KEY>] [--version=<n>]
//	reportpipe publish-page      [--version=<n>]
//	reportpipe stub-server       [--addr=:8787]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "reportpipe",
	Short: "Publish versioned test reports to RTM, the tracker and the wiki",
	Long: "Reportpipe glues a CI run's outputs together: it allocates a report\n" +
		"version, imports raw results as an asynchronous job, attaches the\n" +
		"rendered reports to the execution issue and publishes a summary page.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(stubCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
