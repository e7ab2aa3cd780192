package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/pipeline"
	"github.com/qaops/reportpipe/pkg/rtm"
	"github.com/qaops/reportpipe/pkg/tracker"
)

var importFlags struct {
	archive      string
	project      string
	jobURL       string
	executionKey string
}

var importCmd = &cobra.Command{
	Use:   "import-results",
	Short: "Submit a results archive and wait for the import job to finish",
	Long: `Import-results submits the archive as an asynchronous import job,
polls its status until a terminal state and persists the returned
execution key for a later attach-reports invocation.

A deadline hit is reported as an error, but the remote job may still be
running; re-running with --execution-key set avoids a duplicate execution.`,
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importFlags.archive, "archive", "", "Raw results archive to import (required)")
	f.StringVar(&importFlags.project, "project", "", "Project key (required)")
	f.StringVar(&importFlags.jobURL, "job-url", "", "CI job URL recorded with the import")
	f.StringVar(&importFlags.executionKey, "execution-key", "", "Existing execution issue to import into")
	importCmd.MarkFlagRequired("archive")
	importCmd.MarkFlagRequired("project")
}

func runImport(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	client, err := newRTMClient(cfg, logger)
	if err != nil {
		return err
	}

	jobID, err := client.Submit(ctx, importFlags.archive, rtm.SubmitRequest{
		ProjectKey:       importFlags.project,
		ReportType:       "JUNIT",
		JobURL:           importFlags.jobURL,
		TestExecutionKey: importFlags.executionKey,
	})
	if err != nil {
		return fmt.Errorf("import submission failed: %w", err)
	}

	poller := rtm.NewPoller(client, nil, logger)
	job, err := poller.PollUntilTerminal(ctx, jobID, cfg.PollInterval, cfg.PollDeadline)
	if err != nil {
		return fmt.Errorf("import job did not complete: %w", err)
	}
	if job.Status != models.StatusSucceeded {
		return fmt.Errorf("import job %s finished with status %s", jobID, job.Status)
	}

	if job.TestExecutionKey != "" {
		if err := tracker.ValidateIssueKey(job.TestExecutionKey); err != nil {
			return fmt.Errorf("import job returned a malformed execution key: %w", err)
		}
		if err := pipeline.WriteExecutionKey(cfg.ExecKeyFile, job.TestExecutionKey); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Execution: %s\n", job.TestExecutionKey)
	}
	return nil
}
