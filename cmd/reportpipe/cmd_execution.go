package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/pipeline"
)

var executionFlags struct {
	project     string
	summary     string
	description string
}

var executionCmd = &cobra.Command{
	Use:   "create-execution",
	Short: "Create a test execution issue in the tracker",
	Long: `Create-execution creates an execution issue directly in the tracker,
for runs that skip the results import but still need somewhere to hang
the report attachments. The issue key is persisted for attach-reports.`,
	RunE: runExecution,
}

func init() {
	f := executionCmd.Flags()
	f.StringVar(&executionFlags.project, "project", "", "Project key (required)")
	f.StringVar(&executionFlags.summary, "summary", "Automated test execution", "Issue summary")
	f.StringVar(&executionFlags.description, "description", "", "Issue description")
	executionCmd.MarkFlagRequired("project")
}

func runExecution(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	client, err := newTrackerClient(cfg, logger)
	if err != nil {
		return err
	}

	key, browseURL, err := client.CreateExecution(ctx, executionFlags.project,
		executionFlags.summary, executionFlags.description)
	if err != nil {
		return fmt.Errorf("failed to create execution issue: %w", err)
	}
	if err := pipeline.WriteExecutionKey(cfg.ExecKeyFile, key); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Execution: %s\n%s\n", key, browseURL)
	return nil
}
